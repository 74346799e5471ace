// Package fleet has the data model shared by the rest of easy-deploy:
// the opaque IDs the inventory hands out, instances, and the rules for
// which instances a deployment may target.
package fleet

import (
	"strings"

	glob "github.com/ryanuber/go-glob"
)

type StackID string
type LayerID string
type AppID string

const StatusOnline = "online"

// Instance is an instance as the inventory reports it. ID is the
// inventory's own identifier; EC2ID is the compute-platform identifier,
// which is what load balancers know the instance by.
type Instance struct {
	ID       string
	EC2ID    string
	Hostname string
	Status   string
}

func (i Instance) Online() bool {
	return i.Status == StatusOnline
}

// LoadBalancerAttachment is a load balancer as the inventory knows it,
// with the compute IDs of its member instances.
type LoadBalancerAttachment struct {
	Name           string
	EC2InstanceIDs []string
}

// HostPatterns is a list of hostnames, each of which may contain `*`
// wildcards. A name without wildcards only matches itself.
type HostPatterns []string

// ParseHostList splits a comma-separated list of hostnames, dropping
// blanks.
func ParseHostList(s string) HostPatterns {
	var hosts HostPatterns
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func (p HostPatterns) Match(hostname string) bool {
	for _, pattern := range p {
		if glob.Glob(pattern, hostname) {
			return true
		}
	}
	return false
}

// SelectLayer returns the online instances not matched by exclude, in
// the order given.
func SelectLayer(instances []Instance, exclude HostPatterns) []Instance {
	var selected []Instance
	for _, inst := range instances {
		if inst.Online() && !exclude.Match(inst.Hostname) {
			selected = append(selected, inst)
		}
	}
	return selected
}

// SelectHosts returns the online instances matched by hosts, in the
// order given.
func SelectHosts(instances []Instance, hosts HostPatterns) []Instance {
	var selected []Instance
	for _, inst := range instances {
		if inst.Online() && hosts.Match(inst.Hostname) {
			selected = append(selected, inst)
		}
	}
	return selected
}

func IDs(instances []Instance) []string {
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}
	return ids
}

func Hostnames(instances []Instance) []string {
	names := make([]string, len(instances))
	for i, inst := range instances {
		names[i] = inst.Hostname
	}
	return names
}
