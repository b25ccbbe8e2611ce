package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwos/autodt/errors"
	"github.com/gwos/autodt/flock"
	"github.com/gwos/autodt/transit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inventoryMock struct {
	hosts    []transit.HostRecord
	services []transit.ServiceRecord
	calls    int
	err      error
}

func (m *inventoryMock) ListHosts(context.Context) ([]transit.HostRecord, error) {
	m.calls++
	return m.hosts, m.err
}

func (m *inventoryMock) ListServices(context.Context) ([]transit.ServiceRecord, error) {
	return m.services, m.err
}

func testInventory() *inventoryMock {
	return &inventoryMock{
		hosts: []transit.HostRecord{
			{Name: "db1", Alias: "DB1 Primary", Site: "prod", Children: []string{"db1-disk", "db1-net"}},
			{Name: "db1-disk", Alias: "db1-disk", Site: "prod", Parents: []string{"db1"}, Children: []string{"db1-disk-shelf"}},
			{Name: "db1-disk-shelf", Alias: "shelf", Site: "prod", Parents: []string{"db1-disk"}, Children: []string{"db1"}},
			{Name: "db1-net", Alias: "db1-net", Site: "prod", Parents: []string{"db1"}},
			{Name: "web1", Alias: "Web 1", Site: "prod"},
			{Name: "web2", Alias: "web2", Site: "prod"},
			{Name: "dbhost", Alias: "dbhost", Site: "prod"},
			{Name: "xdb1_backup", Alias: "xdb1_backup", Site: "prod"},
		},
		services: []transit.ServiceRecord{
			{Name: "CPU load", HostName: "db1", Site: "prod"},
			{Name: "Replication db1", HostName: "dbhost", Site: "prod"},
			{Name: "Backup DB1 nightly", HostName: "xdb1_backup", Site: "prod"},
			{Name: "Replicationdb1x", HostName: "dbhost", Site: "prod"},
			{Name: "HTTP web1", HostName: "web1", Site: "prod"},
		},
	}
}

func testSnapshot() *Snapshot {
	inv := testInventory()
	return NewSnapshot(inv.hosts, inv.services, time.Now())
}

func TestSnapshot_FindHosts(t *testing.T) {
	s := testSnapshot()

	res, err := s.FindHosts("web.*", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"web1", "web2"}, res)

	res, err = s.FindHosts("^DB1$", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"db1"}, res)

	res, err = s.FindHosts("^DB1$", false)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = s.FindHosts("(", false)
	assert.Error(t, err)
}

func TestSnapshot_FindSimilarHosts(t *testing.T) {
	s := testSnapshot()

	res, err := s.FindSimilarHosts("db1", false, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"db1-disk", "db1-disk-shelf", "db1-net", "xdb1_backup"}, res,
		"boundary matches on '-' and '_' but not inside words")

	res, err = s.FindSimilarHosts("db1", false, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"db1-disk", "db1-disk-shelf", "db1-net", "xdb1_backup"}, res)

	res, err = s.FindSimilarHosts("WEB", true, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"web1", "web2"}, res)

	res, err = s.FindSimilarHosts("WEB", false, false)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSnapshot_Children(t *testing.T) {
	s := testSnapshot()

	assert.ElementsMatch(t, []string{"db1-disk", "db1-net", "db1-disk-shelf"}, s.Children("db1", false),
		"cycle back to db1 terminates and excludes the host itself")
	assert.ElementsMatch(t, []string{"db1-disk", "db1-net", "db1-disk-shelf"}, s.Children("DB1 Primary", false))
	assert.Empty(t, s.Children("DB1", false))
	assert.ElementsMatch(t, []string{"db1-disk", "db1-net", "db1-disk-shelf"}, s.Children("DB1", true))
	assert.Empty(t, s.Children("unknown", true))
}

func TestSnapshot_ChildrenCaseInsensitive(t *testing.T) {
	s := NewSnapshot([]transit.HostRecord{
		{Name: "sw1", Children: []string{"AP1"}},
		{Name: "ap1", Parents: []string{"sw1"}, Children: []string{"cam1"}},
		{Name: "cam1", Parents: []string{"ap1"}},
	}, nil, time.Now())

	assert.Equal(t, []string{"AP1"}, s.Children("SW1", true),
		"recorded child names are not matched case-insensitively")
	assert.Equal(t, []string{"AP1"}, s.Children("sw1", false))
	assert.Equal(t, []string{"cam1"}, s.Children("AP1", true))
}

func TestSnapshot_Parents(t *testing.T) {
	s := testSnapshot()
	assert.Equal(t, []string{"db1"}, s.Parents("db1-net", false))
	assert.Equal(t, []string{"db1-disk"}, s.Parents("SHELF", true))
	assert.Empty(t, s.Parents("web1", false))
}

func TestSnapshot_FindServices(t *testing.T) {
	s := testSnapshot()

	res, err := s.FindServices(ServiceQuery{NamePattern: "db1", Boundary: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []transit.TargetKey{
		{HostName: "dbhost", ServiceName: "Replication db1"},
	}, res)

	res, err = s.FindServices(ServiceQuery{NamePattern: "db1", Boundary: true, CaseInsensitive: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []transit.TargetKey{
		{HostName: "dbhost", ServiceName: "Replication db1"},
		{HostName: "xdb1_backup", ServiceName: "Backup DB1 nightly"},
	}, res)

	res, err = s.FindServices(ServiceQuery{NamePattern: "db1", Boundary: true, OptionalIdentifier: "CPU"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []transit.TargetKey{
		{HostName: "dbhost", ServiceName: "Replication db1"},
		{HostName: "db1", ServiceName: "CPU load"},
	}, res)

	res, err = s.FindServices(ServiceQuery{NamePattern: "HTTP", HostPattern: "web"})
	require.NoError(t, err)
	assert.Equal(t, []transit.TargetKey{{HostName: "web1", ServiceName: "HTTP web1"}}, res)

	res, err = s.FindServices(ServiceQuery{NamePattern: "HTTP", HostPattern: "^db"})
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestCache_LoadRebuild(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tmp", "check_mk", "auto_downtimes")
	inv := testInventory()
	c := New(dir, "", time.Hour, 0, inv)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), LockName), c.LockPath)

	info := c.Stat()
	assert.False(t, info.Exists)
	assert.True(t, info.Expired)

	s, info, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.False(t, info.Expired)
	assert.Equal(t, 1, inv.calls)
	assert.Len(t, s.HostsByName, 8)

	/* fresh file is reused */
	s, _, err = c.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)
	assert.Equal(t, []string{"db1"}, s.HostsByNameLower["db1"])
	assert.ElementsMatch(t, []string{"db1-disk", "db1-net", "db1-disk-shelf"}, s.Children("db1", false))

	/* expired file is rebuilt */
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, _, err = c.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inv.calls)
}

func TestCache_LockedElsewhere(t *testing.T) {
	dir := t.TempDir()
	inv := testInventory()
	c := New(dir, filepath.Join(dir, "rebuild.lock"), time.Hour, time.Second, inv)

	lock, ok, err := flock.TryAcquire(c.LockPath)
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = lock.Release() }()

	t0 := time.Now()
	_, ok, err = c.Rebuild(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(t0), time.Second, "rebuild must not wait for the lock")

	_, _, err = c.Load(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCacheUnavailable))
	assert.Equal(t, 0, inv.calls)
}

func TestCache_BrokenFile(t *testing.T) {
	dir := t.TempDir()
	inv := testInventory()
	c := New(dir, "", time.Hour, 0, inv)
	require.NoError(t, os.WriteFile(c.Path, []byte("garbage"), 0o644))

	s, _, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inv.calls)
	assert.NotNil(t, s)

	inv.err = errors.ErrGateway
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, _, err = c.Load(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCacheUnavailable))
}
