package resolver

import (
	"testing"
	"time"

	"github.com/gwos/autodt/directory"
	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/rule"
	"github.com/gwos/autodt/transit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory() *directory.Snapshot {
	return directory.NewSnapshot(
		[]transit.HostRecord{
			{Name: "db1", Alias: "db1.example.com", Parents: []string{"sw1"}, Children: []string{"db1-disk", "db1-net"}},
			{Name: "db1-disk", Alias: "db1-disk", Parents: []string{"db1"}},
			{Name: "db1-net", Alias: "db1-net", Parents: []string{"db1"}, Children: []string{"db1"}},
			{Name: "sw1", Alias: "sw1", Children: []string{"db1"}},
			{Name: "web1", Alias: "web1"},
			{Name: "web2", Alias: "web2"},
			{Name: "dbhost", Alias: "dbhost"},
		},
		[]transit.ServiceRecord{
			{Name: "Port db1", HostName: "sw1"},
			{Name: "Uplink", HostName: "sw1"},
			{Name: "Replication db1", HostName: "dbhost"},
			{Name: "HTTP", HostName: "web1"},
			{Name: "HTTPS", HostName: "web2"},
			{Name: "HTTP", HostName: "dbhost"},
		},
		time.Now(),
	)
}

func testRule(mode rule.DetectionMode) rule.Rule {
	r := rule.Defaults()
	r.HostName = "db1"
	r.DisplayName = "Auto DT"
	r.Monitor.HostName = "db1"
	r.Detection.Mode = mode
	return r
}

func keys(tt transit.Targets) []transit.TargetKey {
	res := make([]transit.TargetKey, 0, len(tt))
	for _, t := range tt {
		res = append(res, t.Key())
	}
	return res
}

func configMsg(err error) string {
	var ce *errors.ConfigError
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return ""
}

func TestResolve_FullyAutomated(t *testing.T) {
	r := testRule(rule.FullyAutomated)
	res, err := Resolve(r, testDirectory())
	require.NoError(t, err)
	assert.ElementsMatch(t, []transit.TargetKey{
		{HostName: "db1-disk"},
		{HostName: "db1-net"},
		{HostName: "sw1", ServiceName: "Port db1"},
		{HostName: "dbhost", ServiceName: "Replication db1"},
	}, keys(res))
	for _, tgt := range res {
		if tgt.HostName == "db1-disk" {
			assert.Equal(t, LabelSimilarHost, tgt.Label, "first seen label is kept")
		}
	}
	assert.Equal(t, "", NoMatchTag(r))

	t.Run("ByService", func(t *testing.T) {
		r := testRule(rule.FullyAutomated)
		r.Monitor.ServiceName = "Maintenance"
		res, err := Resolve(r, testDirectory())
		require.NoError(t, err)
		assert.Equal(t, transit.Target{Label: LabelMyself, HostName: "db1"}, res[0])
		assert.Len(t, res, 5)
	})

	t.Run("OptionalIdentifier", func(t *testing.T) {
		r := testRule(rule.FullyAutomated)
		r.Detection.OptionalIdentifier = "Uplink"
		res, err := Resolve(r, testDirectory())
		require.NoError(t, err)
		assert.Contains(t, keys(res), transit.TargetKey{HostName: "sw1", ServiceName: "Uplink"})
		assert.Equal(t, DefaultNoMatchTag, NoMatchTag(r))
	})
}

func TestResolve_Dedup(t *testing.T) {
	for _, mode := range []rule.DetectionMode{rule.FullyAutomated, rule.SearchParentChild, rule.SearchChild} {
		res, err := Resolve(testRule(mode), testDirectory())
		require.NoError(t, err)
		seen := map[transit.TargetKey]bool{}
		for _, k := range keys(res) {
			assert.False(t, seen[k], "duplicate %v in %s", k, mode)
			seen[k] = true
		}
	}
}

func TestResolve_SearchModes(t *testing.T) {
	res, err := Resolve(testRule(rule.SearchChild), testDirectory())
	require.NoError(t, err)
	assert.Equal(t, transit.Targets{
		{Label: LabelMyself, HostName: "db1"},
		{Label: LabelChildPrefix + "db1-disk", HostName: "db1-disk"},
		{Label: LabelChildPrefix + "db1-net", HostName: "db1-net"},
	}, res)

	res, err = Resolve(testRule(rule.SearchParentChild), testDirectory())
	require.NoError(t, err)
	assert.Equal(t, transit.Target{Label: LabelMyself, HostName: "db1"}, res[0])
	assert.ElementsMatch(t, []transit.TargetKey{
		{HostName: "db1"},
		{HostName: "sw1", ServiceName: "Port db1"},
		{HostName: "dbhost", ServiceName: "Replication db1"},
		{HostName: "db1-disk"},
		{HostName: "db1-net"},
	}, keys(res))
}

func TestResolve_ManualTargets(t *testing.T) {
	r := testRule(rule.SpecifyTargets)
	r.Detection.Targets = []rule.ManualTarget{{ID: "grp1", HostRegex: "web.*"}}
	res, err := Resolve(r, testDirectory())
	require.NoError(t, err)
	assert.Equal(t, transit.Targets{
		{Label: "grp1", HostName: "web1"},
		{Label: "grp1", HostName: "web2"},
	}, res)

	r.Detection.Targets = []rule.ManualTarget{{ID: "grp2", HostRegex: "web", ServiceRegex: "HTTP$"}}
	res, err = Resolve(r, testDirectory())
	require.NoError(t, err)
	assert.Equal(t, transit.Targets{{Label: "grp2", HostName: "web1", ServiceName: "HTTP"}}, res)
}

func TestResolve_ManualTargetErrors(t *testing.T) {
	r := testRule(rule.SpecifyTargets)

	_, err := Resolve(r, testDirectory())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfig))
	assert.Equal(t, "! Manual target list, but no targets defined or no targets found", configMsg(err))

	r.Detection.Targets = []rule.ManualTarget{{ID: "grp1", HostRegex: "nothing.*"}}
	_, err = Resolve(r, testDirectory())
	assert.True(t, errors.Is(err, errors.ErrConfig))
	assert.Contains(t, configMsg(err), "(1 configured)")

	r.Detection.Targets = []rule.ManualTarget{{ID: "grp1", ServiceRegex: "HTTP"}}
	_, err = Resolve(r, testDirectory())
	assert.Equal(t, "! Bad manual target list, host always required", configMsg(err))

	r.Detection.Targets = []rule.ManualTarget{{ID: "grp1", HostRegex: "web(("}}
	_, err = Resolve(r, testDirectory())
	assert.True(t, errors.Is(err, errors.ErrConfig))

	r.Detection.Mode = "bogus"
	_, err = Resolve(r, testDirectory())
	assert.Equal(t, "! Invalid mode for --dependency_detection", configMsg(err))
}

func TestNothingFound(t *testing.T) {
	r := testRule(rule.SearchChild)
	assert.Equal(t, "*** NOTHING FOUND. Nobody seems to be dependant on this host ***", NothingFound(r))
}
