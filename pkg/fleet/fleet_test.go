package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var instances = []Instance{
	{ID: "a", EC2ID: "i-a", Hostname: "api1", Status: StatusOnline},
	{ID: "b", EC2ID: "i-b", Hostname: "api2", Status: "stopped"},
	{ID: "c", EC2ID: "i-c", Hostname: "api3", Status: StatusOnline},
	{ID: "d", EC2ID: "i-d", Hostname: "worker1", Status: StatusOnline},
}

func TestParseHostList(t *testing.T) {
	assert.Equal(t, HostPatterns{"host1", "host2"}, ParseHostList("host1, host2,,"))
	assert.Nil(t, ParseHostList(""))
}

func TestSelectLayerExcludes(t *testing.T) {
	selected := SelectLayer(instances, HostPatterns{"api3"})
	assert.Equal(t, []string{"a", "d"}, IDs(selected))
}

func TestSelectLayerNoExclusions(t *testing.T) {
	selected := SelectLayer(instances, nil)
	assert.Equal(t, []string{"api1", "api3", "worker1"}, Hostnames(selected))
}

func TestSelectHosts(t *testing.T) {
	for name, tc := range map[string]struct {
		hosts  HostPatterns
		expect []string
	}{
		"exact":          {HostPatterns{"api1", "api2"}, []string{"a"}},
		"glob":           {HostPatterns{"api*"}, []string{"a", "c"}},
		"no match":       {HostPatterns{"db1"}, []string{}},
		"exact not glob": {HostPatterns{"api"}, []string{}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expect, IDs(SelectHosts(instances, tc.hosts)))
		})
	}
}
