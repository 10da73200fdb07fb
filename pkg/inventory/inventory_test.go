package inventory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/proto"
)

func newTestInventory(t *testing.T) *Inventory {
	t.Helper()
	return New(Params{
		DeviceID: "host-2026-01-02-03-04-05",
		Logger:   zerolog.Nop(),
	})
}

func TestAddEntryUnknownSection(t *testing.T) {
	doc := newTestInventory(t)
	err := doc.AddEntry("NO_SUCH_SECTION", Record{"NAME": "x"})
	assert.Error(t, err)
}

func TestAddEntryDropsUnknownFields(t *testing.T) {
	doc := newTestInventory(t)
	require.NoError(t, doc.AddEntry("cpus", Record{
		"NAME":        "Fake CPU",
		"BOGUS_FIELD": "dropped",
	}))

	records := doc.GetSection("CPUS")
	require.Len(t, records, 1)
	assert.Equal(t, "Fake CPU", records[0]["NAME"])
	assert.NotContains(t, records[0], "BOGUS_FIELD")
}

func TestAddEntryStoragesSerialFallback(t *testing.T) {
	doc := newTestInventory(t)
	require.NoError(t, doc.AddEntry("STORAGES", Record{
		"NAME":   "sda",
		"SERIAL": "ABC123",
	}))

	records := doc.GetSection("STORAGES")
	require.Len(t, records, 1)
	assert.Equal(t, "ABC123", records[0]["SERIALNUMBER"])
}

func TestAddEntrySanitizesStrings(t *testing.T) {
	doc := newTestInventory(t)
	require.NoError(t, doc.AddEntry("CPUS", Record{
		"NAME": " Fake\x00 CPU \x07",
	}))

	records := doc.GetSection("CPUS")
	require.Len(t, records, 1)
	assert.Equal(t, "Fake CPU", records[0]["NAME"])
}

func TestSetSingletonUpserts(t *testing.T) {
	doc := newTestInventory(t)
	doc.SetHardware(Record{"NAME": "host1", "MEMORY": 2048})
	doc.SetHardware(Record{"NAME": "host2"})

	records := doc.GetSection("HARDWARE")
	require.Len(t, records, 1)
	assert.Equal(t, "host2", records[0]["NAME"])
	assert.Equal(t, 2048, records[0]["MEMORY"])
}

func TestNormalizeLowercasesAndRenames(t *testing.T) {
	doc := newTestInventory(t)
	doc.SetHardware(Record{"NAME": "host1"})
	require.NoError(t, doc.AddEntry("NETWORKS", Record{
		"DESCRIPTION": "eth0",
		"MACADDR":     "AA:BB:CC:DD:EE:FF",
	}))
	require.NoError(t, doc.AddEntry("FIREWALL", Record{
		"STATUS": "on",
	}))

	content := doc.Normalize("")

	hardware, ok := content["hardware"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "host1", hardware["name"])

	networks, ok := content["networks"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, networks, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", networks[0]["mac"])
	assert.NotContains(t, networks[0], "macaddr")

	_, renamed := content["firewalls"]
	assert.True(t, renamed, "FIREWALL must be emitted as firewalls")
	_, old := content["firewall"]
	assert.False(t, old)
}

func TestNormalizeDropsEntryMissingRequiredField(t *testing.T) {
	doc := newTestInventory(t)
	require.NoError(t, doc.AddEntry("SOFTWARES", Record{
		"VERSION": "1.0",
	}))
	require.NoError(t, doc.AddEntry("SOFTWARES", Record{
		"NAME":    "editor",
		"VERSION": "2.0",
	}))

	content := doc.Normalize("")
	softwares, ok := content["softwares"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, softwares, 1)
	assert.Equal(t, "editor", softwares[0]["name"])
}

func TestNormalizeCoercions(t *testing.T) {
	doc := newTestInventory(t)
	doc.SetHardware(Record{"NAME": "host1", "MEMORY": "2048"})
	require.NoError(t, doc.AddEntry("SOFTWARES", Record{
		"NAME":        "editor",
		"INSTALLDATE": "25/12/2025",
	}))
	require.NoError(t, doc.AddEntry("BATTERIES", Record{
		"NAME": "BAT0",
		"DATE": "2025-01-02",
	}))

	content := doc.Normalize("")

	hardware := content["hardware"].(map[string]any)
	assert.Equal(t, int64(2048), hardware["memory"])

	softwares := content["softwares"].([]map[string]any)
	require.Len(t, softwares, 1)
	assert.Equal(t, "2025-12-25", softwares[0]["install_date"])
}

func TestNormalizeBiosDateInversion(t *testing.T) {
	doc := newTestInventory(t)
	// 12/25/2025 only parses as MM/DD/YYYY, tolerated for BIOS.BDATE.
	doc.SetBios(Record{"BDATE": "12/25/2025", "SMANUFACTURER": "ACME"})

	content := doc.Normalize("")
	bios := content["bios"].(map[string]any)
	assert.Equal(t, "2025-12-25", bios["bdate"])
}

func TestNormalizeVersionSpecificDrops(t *testing.T) {
	doc := newTestInventory(t)
	require.NoError(t, doc.AddEntry("NETWORKS", Record{
		"DESCRIPTION": "eth0",
		"MANAGEMENT":  true,
	}))

	modern := doc.Normalize("10.0.7")
	networks := modern["networks"].([]map[string]any)
	assert.Contains(t, networks[0], "management")

	legacy := doc.Normalize("9.5.3")
	networks = legacy["networks"].([]map[string]any)
	assert.NotContains(t, networks[0], "management")
}

func TestNormalizeOmittedFieldsAndSections(t *testing.T) {
	doc := newTestInventory(t)
	require.NoError(t, doc.AddEntry("VIDEOS", Record{
		"NAME":  "GPU",
		"PCIID": "8086:1234",
	}))

	content := doc.Normalize("")
	videos := content["videos"].([]map[string]any)
	require.Len(t, videos, 1)
	assert.NotContains(t, videos[0], "pciid")
}

func TestMergeContentHoistsTag(t *testing.T) {
	doc := newTestInventory(t)
	require.NoError(t, doc.MergeContent(map[string]any{
		"ACCOUNTINFO": []any{
			map[string]any{"KEYNAME": "TAG", "KEYVALUE": "datacenter-7"},
		},
		"CPUS": map[string]any{"NAME": "merged"},
	}))

	assert.Equal(t, "datacenter-7", doc.Tag())
	assert.False(t, doc.HasSection("ACCOUNTINFO"))
	require.Len(t, doc.GetSection("CPUS"), 1)
}

func TestMergeContentConcatenatesLists(t *testing.T) {
	doc := newTestInventory(t)
	require.NoError(t, doc.AddEntry("CPUS", Record{"NAME": "first"}))
	require.NoError(t, doc.MergeContent(map[string]any{
		"cpus": []any{map[string]any{"NAME": "second"}},
	}))

	assert.Len(t, doc.GetSection("CPUS"), 2)
}

func TestEnvelopeValidates(t *testing.T) {
	doc := newTestInventory(t)
	doc.SetHardware(Record{"NAME": "host1"})
	doc.SetBios(Record{"SMANUFACTURER": "ACME"})

	msg := doc.Envelope("")
	assert.Equal(t, proto.ActionInventory, msg.Action)
	assert.Equal(t, "host-2026-01-02-03-04-05", msg.DeviceID)
	assert.NoError(t, proto.ValidateInventory(msg))
}

func TestEnvelopeEmptyContentRejected(t *testing.T) {
	doc := newTestInventory(t)
	msg := doc.Envelope("")
	assert.Error(t, proto.ValidateInventory(msg))
}

func TestComputeChecksumFirstRunIsFull(t *testing.T) {
	doc := newTestInventory(t)
	doc.SetHardware(Record{"NAME": "host1"})
	require.NoError(t, doc.AddEntry("CPUS", Record{"NAME": "cpu0"}))

	state := filepath.Join(t.TempDir(), "last_state.json")
	require.NoError(t, doc.ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 14}))

	assert.False(t, doc.IsPartial())
	assert.True(t, doc.HasSection("CPUS"))
}

func TestComputeChecksumDropsUnchangedSections(t *testing.T) {
	state := filepath.Join(t.TempDir(), "last_state.json")

	build := func() *Inventory {
		doc := newTestInventory(t)
		doc.SetHardware(Record{"NAME": "host1"})
		require.NoError(t, doc.AddEntry("CPUS", Record{"NAME": "cpu0"}))
		require.NoError(t, doc.AddEntry("USERS", Record{"LOGIN": "alice"}))
		return doc
	}

	first := build()
	require.NoError(t, first.ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 14}))
	require.False(t, first.IsPartial())

	second := build()
	second.SetHardware(Record{"NAME": "host1", "LASTLOGGEDUSER": "alice"})
	require.NoError(t, second.ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 14}))

	assert.True(t, second.IsPartial())
	assert.False(t, second.HasSection("CPUS"), "unchanged section must be dropped")
	assert.True(t, second.HasSection("HARDWARE"), "HARDWARE is always kept")

	// USERS was dropped, so the logged-user hardware fields go too.
	hw := second.GetSection("HARDWARE")[0]
	assert.NotContains(t, hw, "LASTLOGGEDUSER")
}

func TestComputeChecksumPostponeForcesFull(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "last_state.json")

	build := func() *Inventory {
		doc := newTestInventory(t)
		doc.SetHardware(Record{"NAME": "host1"})
		require.NoError(t, doc.AddEntry("CPUS", Record{"NAME": "cpu0"}))
		return doc
	}

	require.NoError(t, build().ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 2}))

	for run := 0; run < 2; run++ {
		doc := build()
		// Something always changes so each run stays partial.
		doc.SetHardware(Record{"PROCESSORS": run + 1})
		require.NoError(t, doc.ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 2}))
		assert.True(t, doc.IsPartial(), "run %d", run)
	}

	doc := build()
	doc.SetHardware(Record{"PROCESSORS": 99})
	require.NoError(t, doc.ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 2}))
	assert.False(t, doc.IsPartial(), "postpone limit must force a full inventory")
	assert.True(t, doc.HasSection("CPUS"))
}

func TestComputeChecksumForcedPartialPassesLimit(t *testing.T) {
	state := filepath.Join(t.TempDir(), "last_state.json")

	build := func() *Inventory {
		doc := newTestInventory(t)
		doc.SetHardware(Record{"NAME": "host1"})
		require.NoError(t, doc.AddEntry("CPUS", Record{"NAME": "cpu0"}))
		return doc
	}

	require.NoError(t, build().ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 1}))

	// Caller-forced partial keeps counting past the limit.
	for run := 0; run < 3; run++ {
		doc := build()
		doc.SetHardware(Record{"PROCESSORS": run + 1})
		require.NoError(t, doc.ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 1, Partial: true}))
		assert.True(t, doc.IsPartial(), "run %d", run)
	}

	doc := build()
	doc.SetHardware(Record{"PROCESSORS": 99})
	require.NoError(t, doc.ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 1}))
	assert.False(t, doc.IsPartial())
}

func TestComputeChecksumForcedPartialWithFreshState(t *testing.T) {
	state := filepath.Join(t.TempDir(), "last_state.json")

	// Every section differs from the (empty) last state, so nothing gets
	// dropped. The category-narrowed document must still go out flagged
	// partial, or the server reconciles away every unreported section.
	doc := newTestInventory(t)
	doc.SetHardware(Record{"NAME": "host1"})
	doc.SetBios(Record{"SMANUFACTURER": "ACME"})
	require.NoError(t, doc.AddEntry("CPUS", Record{"NAME": "cpu0"}))
	require.NoError(t, doc.ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 2, Partial: true}))

	assert.True(t, doc.IsPartial())
	assert.True(t, doc.HasSection("CPUS"))

	persisted, err := loadState(state)
	require.NoError(t, err)
	assert.Equal(t, 1, persisted.PostponeCount)
}

func TestComputeChecksumSoftwaresChangeKeepsOS(t *testing.T) {
	state := filepath.Join(t.TempDir(), "last_state.json")

	build := func(version string) *Inventory {
		doc := newTestInventory(t)
		doc.SetHardware(Record{"NAME": "host1"})
		doc.SetOperatingSystem(Record{"NAME": "linux"})
		require.NoError(t, doc.AddEntry("CPUS", Record{"NAME": "cpu0"}))
		require.NoError(t, doc.AddEntry("SOFTWARES", Record{"NAME": "editor", "VERSION": version}))
		return doc
	}

	require.NoError(t, build("1.0").ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 14}))

	doc := build("2.0")
	require.NoError(t, doc.ComputeChecksum(ChecksumOptions{StateFile: state, Postpone: 14}))
	assert.True(t, doc.IsPartial())
	assert.True(t, doc.HasSection("OPERATINGSYSTEM"),
		"changed SOFTWARES must keep OPERATINGSYSTEM for server-side rebinding")
}

func TestSaveJSONToDirectory(t *testing.T) {
	doc := newTestInventory(t)
	doc.SetHardware(Record{"NAME": "host1"})

	dir := t.TempDir()
	path, err := doc.Save(dir, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, doc.DeviceID()+".json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "inventory", msg["action"])
	content := msg["content"].(map[string]any)
	assert.Contains(t, content, "hardware")
}

func TestSaveXMLEnvelope(t *testing.T) {
	doc := newTestInventory(t)
	doc.SetHardware(Record{"NAME": "host1"})

	path := filepath.Join(t.TempDir(), "out.xml")
	_, err := doc.Save(path, FormatXML)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "<REQUEST>")
	assert.Contains(t, out, "<DEVICEID>"+doc.DeviceID()+"</DEVICEID>")
	assert.Contains(t, out, "<QUERY>INVENTORY</QUERY>")
	assert.Contains(t, out, "<HARDWARE>")
	assert.Contains(t, out, "<NAME>host1</NAME>")
}

func TestSaveHTML(t *testing.T) {
	doc := newTestInventory(t)
	doc.SetHardware(Record{"NAME": "host1"})

	path := filepath.Join(t.TempDir(), "out.html")
	_, err := doc.Save(path, FormatHTML)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "host1")
}

func TestRemoteStateFile(t *testing.T) {
	tests := []struct {
		name     string
		uuid     string
		serial   string
		deviceID string
		want     string
	}{
		{"uuid wins", "uuid-1", "sn-1", "dev-1", "last_remote_state-uuid-1.json"},
		{"serial fallback", "", "sn-1", "dev-1", "last_remote_state-sn-1.json"},
		{"deviceid fallback", "", "", "dev-1", "last_remote_state-dev-1.json"},
		{"path chars sanitized", "a/b:c", "", "", "last_remote_state-a_b_c.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemoteStateFile("/state", tt.uuid, tt.serial, tt.deviceID)
			assert.Equal(t, filepath.Join("/state", tt.want), got)
		})
	}
}

func TestCanonicalSize(t *testing.T) {
	tests := []struct {
		in   string
		base float64
		want float64
		ok   bool
	}{
		{"1024 MB", 1000, 1024, true},
		{"1 GB", 1000, 1000, true},
		{"1 GB", 1024, 1024, true},
		{"1,5 GB", 1000, 1500, true},
		{"2 TB", 1000, 2000000, true},
		{"1048576 bytes", 1024, 1, true},
		{"512 KB", 1024, 0.5, true},
		{"17 parsecs", 1000, 0, false},
		{"no digits", 1000, 0, false},
		{"", 1000, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CanonicalSize(tt.in, tt.base)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 0.001)
			}
		})
	}
}

func TestNumericMac(t *testing.T) {
	n, ok := NumericMac("ff:ff:ff:ff:ff:ff")
	require.True(t, ok)
	assert.Equal(t, uint64(1)<<48-1, n)

	n, ok = NumericMac("00:00:00:00:00:01")
	require.True(t, ok)
	assert.Equal(t, uint64(1), n)

	_, ok = NumericMac("not-a-mac")
	assert.False(t, ok)
	_, ok = NumericMac("00:00:00:00:00")
	assert.False(t, ok)
}

func TestPrimaryMac(t *testing.T) {
	// Adjacent pair: lower of the two wins even when listed later.
	mac := PrimaryMac([]string{
		"00:16:3e:00:00:09",
		"00:16:3e:00:00:03",
		"00:16:3e:00:00:02",
	})
	assert.Equal(t, "00:16:3e:00:00:02", mac)

	// No adjacency: first valid candidate wins.
	mac = PrimaryMac([]string{"garbage", "00:16:3e:00:00:09", "00:16:3e:00:00:01"})
	assert.Equal(t, "00:16:3e:00:00:09", mac)

	assert.Equal(t, "", PrimaryMac([]string{"garbage"}))
}

func TestCategories(t *testing.T) {
	cats := Categories()
	assert.Contains(t, cats, "cpu")
	assert.Contains(t, cats, "software")
	assert.True(t, sortedStrings(cats))
}

func sortedStrings(values []string) bool {
	for i := 1; i < len(values); i++ {
		if strings.Compare(values[i-1], values[i]) > 0 {
			return false
		}
	}
	return true
}
