package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"k8s.io/klog/v2"

	"github.com/ydb-platform/fwupd-client/internal/fwupd"
)

type reporter struct {
	client  *fwupd.Client
	http    fwupd.Doer
	out     io.Writer
	remotes *regexp.Regexp
	refresh bool
}

// run prints the daemon state, every device with its releases and every
// remote, refreshing remote metadata along the way.
func (r *reporter) run(ctx context.Context) error {
	version, err := r.client.DaemonVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Version: %s\n", version)

	status, err := r.client.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Status: %s\n", status)

	tainted, err := r.client.Tainted(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Tainted: %t\n", tainted)

	if percentage, err := r.client.Percentage(ctx); err == nil {
		fmt.Fprintf(r.out, "Percentage: %d\n", percentage)
	} else {
		klog.V(2).Infof("percentage unavailable: %v", err)
	}

	if product, err := r.client.HostProduct(ctx); err == nil && product != "" {
		fmt.Fprintf(r.out, "Host: %s\n", product)
	}

	if err := r.devices(ctx); err != nil {
		return err
	}
	return r.refreshRemotes(ctx)
}

func (r *reporter) devices(ctx context.Context) error {
	devices, err := r.client.Devices(ctx)
	if err != nil {
		return err
	}

	for i := range devices {
		device := &devices[i]
		fmt.Fprintf(r.out, "Device: %s %s\n", device.Vendor, device.Name)

		if !device.IsUpdatable() {
			fmt.Fprintln(r.out, "  device not updatable")
			continue
		}

		if upgrades, err := r.client.Upgrades(ctx, device); err == nil {
			fmt.Fprintln(r.out, "  upgrades found")
			r.dump(upgrades)
		} else {
			klog.V(2).Infof("%v", err)
			fmt.Fprintln(r.out, "  no updates available")
		}

		if downgrades, err := r.client.Downgrades(ctx, device); err == nil {
			fmt.Fprintln(r.out, "  downgrades found")
			r.dump(downgrades)
		} else {
			klog.V(2).Infof("%v", err)
		}

		if releases, err := r.client.Releases(ctx, device); err == nil {
			fmt.Fprintln(r.out, "  releases found")
			r.dump(releases)
		} else {
			klog.V(2).Infof("%v", err)
		}
	}

	return nil
}

func (r *reporter) refreshRemotes(ctx context.Context) error {
	remotes, err := r.client.Remotes(ctx)
	if err != nil {
		return err
	}

	for i := range remotes {
		remote := &remotes[i]
		if r.remotes != nil && !r.remotes.MatchString(remote.ID) {
			klog.V(5).Infof("remote %s does not match %s, skipping", remote.ID, r.remotes)
			continue
		}

		fmt.Fprintf(r.out, "Remote: %s\n", remote.ID)
		r.dump(remote)

		if !r.refresh {
			continue
		}
		if err := remote.UpdateMetadata(ctx, r.client, r.http); err != nil {
			return fmt.Errorf("failed to refresh remote %s: %w", remote.ID, err)
		}
	}

	return nil
}

// dump writes v as YAML indented under the current entry.
func (r *reporter) dump(v interface{}) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		klog.Errorf("failed to encode %T: %v", v, err)
		return
	}
	encoder.Close()

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		fmt.Fprintf(r.out, "    %s\n", line)
	}
}
