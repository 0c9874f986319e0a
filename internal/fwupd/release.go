package fwupd

import (
	"time"
)

// Release is a firmware version offered for a device. Upgrades and
// downgrades are releases too.
type Release struct {
	AppstreamID     string        `json:"appstreamId,omitempty" yaml:"appstreamId,omitempty"`
	Name            string        `json:"name,omitempty" yaml:"name,omitempty"`
	Summary         string        `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description     string        `json:"description,omitempty" yaml:"description,omitempty"`
	Version         string        `json:"version" yaml:"version"`
	Vendor          string        `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	License         string        `json:"license,omitempty" yaml:"license,omitempty"`
	Homepage        string        `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	DetailsURL      string        `json:"detailsUrl,omitempty" yaml:"detailsUrl,omitempty"`
	SourceURL       string        `json:"sourceUrl,omitempty" yaml:"sourceUrl,omitempty"`
	URI             string        `json:"uri,omitempty" yaml:"uri,omitempty"`
	Filename        string        `json:"filename,omitempty" yaml:"filename,omitempty"`
	Protocol        string        `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	RemoteID        string        `json:"remoteId,omitempty" yaml:"remoteId,omitempty"`
	Checksums       []string      `json:"checksums,omitempty" yaml:"checksums,omitempty"`
	Categories      []string      `json:"categories,omitempty" yaml:"categories,omitempty"`
	Issues          []string      `json:"issues,omitempty" yaml:"issues,omitempty"`
	Size            uint64        `json:"size,omitempty" yaml:"size,omitempty"`
	InstallDuration time.Duration `json:"installDuration,omitempty" yaml:"installDuration,omitempty"`
	TrustFlags      TrustFlags    `json:"trustFlags,omitempty" yaml:"trustFlags,omitempty"`
	Urgency         Urgency       `json:"urgency,omitempty" yaml:"urgency,omitempty"`
	UpdateMessage   string        `json:"updateMessage,omitempty" yaml:"updateMessage,omitempty"`
	Created         time.Time     `json:"created,omitempty" yaml:"created,omitempty"`
}

func decodeRelease(d dict) Release {
	uri := d.str("Uri")
	if uri == "" {
		// newer daemons send a list of mirrors instead
		if locations := d.strs("Locations"); len(locations) > 0 {
			uri = locations[0]
		}
	}
	return Release{
		AppstreamID:     d.str("AppstreamId"),
		Name:            d.str("Name"),
		Summary:         d.str("Summary"),
		Description:     d.str("Description"),
		Version:         d.str("Version"),
		Vendor:          d.str("Vendor"),
		License:         d.str("License"),
		Homepage:        d.str("Homepage"),
		DetailsURL:      d.str("DetailsUrl"),
		SourceURL:       d.str("SourceUrl"),
		URI:             uri,
		Filename:        d.str("Filename"),
		Protocol:        d.str("Protocol"),
		RemoteID:        d.str("RemoteId"),
		Checksums:       d.strs("Checksum"),
		Categories:      d.strs("Categories"),
		Issues:          d.strs("Issues"),
		Size:            d.u64("Size"),
		InstallDuration: d.seconds("InstallDuration"),
		TrustFlags:      TrustFlags(d.u64("TrustFlags")),
		Urgency:         Urgency(d.u32("Urgency")),
		UpdateMessage:   d.str("UpdateMessage"),
		Created:         d.timestamp("Created"),
	}
}
