package fwupd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kennygrant/sanitize"

	"k8s.io/klog/v2"
)

type RemoteKind uint32

const (
	RemoteKindUnknown RemoteKind = iota
	RemoteKindDownload
	RemoteKindLocal
	RemoteKindDirectory
)

var remoteKindNames = []string{"unknown", "download", "local", "directory"}

func (k RemoteKind) String() string {
	return enumName(remoteKindNames, uint32(k))
}

func (k RemoteKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KeyringKind is how the daemon verifies a remote's metadata.
type KeyringKind uint32

const (
	KeyringKindUnknown KeyringKind = iota
	KeyringKindNone
	KeyringKindGPG
	KeyringKindPKCS7
	KeyringKindJcat
)

var keyringKindNames = []string{"unknown", "none", "gpg", "pkcs7", "jcat"}

func (k KeyringKind) String() string {
	return enumName(keyringKindNames, uint32(k))
}

func (k KeyringKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// signature file extension, appended to the metadata URI
func (k KeyringKind) extension() string {
	switch k {
	case KeyringKindGPG:
		return ".asc"
	case KeyringKindPKCS7:
		return ".p7b"
	case KeyringKindJcat:
		return ".jcat"
	}
	return ""
}

// Remote is a configured source of firmware metadata.
type Remote struct {
	ID               string      `json:"id" yaml:"id"`
	Title            string      `json:"title,omitempty" yaml:"title,omitempty"`
	Kind             RemoteKind  `json:"kind" yaml:"kind"`
	Keyring          KeyringKind `json:"keyring" yaml:"keyring"`
	Enabled          bool        `json:"enabled" yaml:"enabled"`
	ApprovalRequired bool        `json:"approvalRequired,omitempty" yaml:"approvalRequired,omitempty"`
	AutomaticReports bool        `json:"automaticReports,omitempty" yaml:"automaticReports,omitempty"`
	Priority         int32       `json:"priority,omitempty" yaml:"priority,omitempty"`
	MetadataURI      string      `json:"metadataUri,omitempty" yaml:"metadataUri,omitempty"`
	ReportURI        string      `json:"reportUri,omitempty" yaml:"reportUri,omitempty"`
	FirmwareBaseURI  string      `json:"firmwareBaseUri,omitempty" yaml:"firmwareBaseUri,omitempty"`
	FilenameCache    string      `json:"filenameCache,omitempty" yaml:"filenameCache,omitempty"`
	FilenameCacheSig string      `json:"filenameCacheSig,omitempty" yaml:"filenameCacheSig,omitempty"`
	FilenameSource   string      `json:"filenameSource,omitempty" yaml:"filenameSource,omitempty"`
	Agreement        string      `json:"-" yaml:"-"`
	Checksum         string      `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Username         string      `json:"-" yaml:"-"`
	Password         string      `json:"-" yaml:"-"`
	ModificationTime time.Time   `json:"modificationTime,omitempty" yaml:"modificationTime,omitempty"`
}

func decodeRemote(d dict) Remote {
	return Remote{
		ID:               d.str("RemoteId"),
		Title:            d.str("Title"),
		Kind:             RemoteKind(d.u32("Type")),
		Keyring:          KeyringKind(d.u32("Keyring")),
		Enabled:          d.boolean("Enabled"),
		ApprovalRequired: d.boolean("ApprovalRequired"),
		AutomaticReports: d.boolean("AutomaticReports"),
		Priority:         d.i32("Priority"),
		MetadataURI:      d.str("Uri"),
		ReportURI:        d.str("ReportUri"),
		FirmwareBaseURI:  d.str("FirmwareBaseUri"),
		FilenameCache:    d.str("FilenameCache"),
		FilenameCacheSig: d.str("FilenameCacheSig"),
		FilenameSource:   d.str("FilenameSource"),
		Agreement:        d.str("Agreement"),
		Checksum:         d.str("Checksum"),
		Username:         d.str("Username"),
		Password:         d.str("Password"),
		ModificationTime: d.timestamp("ModificationTime"),
	}
}

// SignatureURI is where the detached signature of the metadata lives. It is
// empty for remotes whose keyring does not use one.
func (r *Remote) SignatureURI() string {
	ext := r.Keyring.extension()
	if ext == "" || r.MetadataURI == "" {
		return ""
	}
	return r.MetadataURI + ext
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPError is a download that got a non-2xx answer.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

const maxSignatureSize = 1 << 20

var errNoMetadataURI = errors.New("remote has no metadata URI")

// UpdateMetadata downloads the remote's metadata and signature and passes
// them to the daemon. Disabled and non-download remotes are skipped, as are
// remotes whose signature matches the cached copy.
func (r *Remote) UpdateMetadata(ctx context.Context, c *Client, hc Doer) error {
	if !r.Enabled {
		klog.V(2).Infof("remote %q is disabled, not refreshing metadata", r.ID)
		return nil
	}
	if r.Kind != RemoteKindDownload {
		klog.V(2).Infof("remote %q is of kind %s, not refreshing metadata", r.ID, r.Kind)
		return nil
	}
	if r.MetadataURI == "" {
		return fmt.Errorf("remote %q: %w", r.ID, errNoMetadataURI)
	}

	dir := filepath.Join(c.cacheDir, sanitize.BaseName(r.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	dataPath := filepath.Join(dir, cacheName(r.MetadataURI, "metadata"))
	sigPath := dataPath + ".sig"

	var sig []byte
	if sigURI := r.SignatureURI(); sigURI != "" {
		var err error
		sig, err = r.fetch(ctx, hc, sigURI)
		if err != nil {
			return fmt.Errorf("failed to fetch signature of remote %q: %w", r.ID, err)
		}
		if r.cached(dataPath, sigPath, sig) {
			klog.Infof("remote %q metadata is up to date", r.ID)
			return nil
		}
	}

	if err := r.download(ctx, hc, r.MetadataURI, dataPath); err != nil {
		return fmt.Errorf("failed to fetch metadata of remote %q: %w", r.ID, err)
	}
	// The signature is cached only once the daemon accepted the metadata,
	// otherwise a rejected download would look up to date next time.
	pendingSig := sigPath + ".new"
	if err := os.WriteFile(pendingSig, sig, 0o644); err != nil {
		return fmt.Errorf("failed to write signature of remote %q: %w", r.ID, err)
	}
	defer os.Remove(pendingSig)

	data, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("failed to open cached metadata of remote %q: %w", r.ID, err)
	}
	defer data.Close()
	sigFile, err := os.Open(pendingSig)
	if err != nil {
		return fmt.Errorf("failed to open signature of remote %q: %w", r.ID, err)
	}
	defer sigFile.Close()

	if err := c.UpdateMetadata(ctx, r.ID, data, sigFile); err != nil {
		return fmt.Errorf("daemon rejected metadata of remote %q: %w", r.ID, err)
	}
	if err := os.Rename(pendingSig, sigPath); err != nil {
		return fmt.Errorf("failed to cache signature of remote %q: %w", r.ID, err)
	}
	klog.Infof("updated metadata of remote %q", r.ID)
	return nil
}

func (r *Remote) cached(dataPath, sigPath string, sig []byte) bool {
	old, err := os.ReadFile(sigPath)
	if err != nil || !bytes.Equal(old, sig) {
		return false
	}
	_, err = os.Stat(dataPath)
	return err == nil
}

func cacheName(uri, fallback string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Path == "" || u.Path == "/" {
		return fallback
	}
	return sanitize.Name(u.Path)
}

func (r *Remote) get(ctx context.Context, hc Doer, uri string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if r.Username != "" {
		req.SetBasicAuth(r.Username, r.Password)
	}
	klog.V(2).Infof("GET %s", uri)
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &HTTPError{URL: uri, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

func (r *Remote) fetch(ctx context.Context, hc Doer, uri string) ([]byte, error) {
	resp, err := r.get(ctx, hc, uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSignatureSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxSignatureSize {
		return nil, fmt.Errorf("signature at %s exceeds %d bytes", uri, maxSignatureSize)
	}
	return data, nil
}

// download streams uri into path through a temporary file in the same
// directory.
func (r *Remote) download(ctx context.Context, hc Doer, uri, path string) error {
	resp, err := r.get(ctx, hc, uri)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
