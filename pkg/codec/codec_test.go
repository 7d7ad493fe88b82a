package codec

import (
	"errors"
	"testing"

	"github.com/cuemby/layerstore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allBackends = []storage.BackendType{storage.BackendSQL, storage.BackendKV, storage.BackendCRD}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func TestPeerSlotsQuirk(t *testing.T) {
	spec := DrbdRscSpec{LayerRscID: 3, PeerSlots: 7, AlStripes: 1, AlStripeSize: 32, Flags: 4, NodeID: 2}

	tests := []struct {
		backend storage.BackendType
		stored  any
	}{
		{backend: storage.BackendSQL, stored: int64(7)},
		{backend: storage.BackendCRD, stored: int64(7)},
		{backend: storage.BackendKV, stored: "7"},
	}

	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			rec, err := DrbdRscs.Encode(tt.backend, &spec)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, rec[storage.ColPeerSlots])

			got, err := DrbdRscs.Decode(tt.backend, rec)
			require.NoError(t, err)
			assert.Equal(t, spec, got)
		})
	}
}

func TestPeerSlotsOutOfRange(t *testing.T) {
	rec := storage.Record{
		storage.ColLayerResourceID: int64(3),
		storage.ColPeerSlots:       int64(70000),
		storage.ColAlStripes:       int64(1),
		storage.ColAlStripeSize:    int64(32),
		storage.ColFlags:           int64(0),
		storage.ColNodeID:          int64(0),
	}
	_, err := DrbdRscs.Decode(storage.BackendSQL, rec)
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, storage.ColPeerSlots, fieldErr.Column)

	kvRec := storage.Record{
		storage.ColLayerResourceID: "3",
		storage.ColPeerSlots:       "40000",
		storage.ColAlStripes:       "1",
		storage.ColAlStripeSize:    "32",
		storage.ColFlags:           "0",
		storage.ColNodeID:          "0",
	}
	_, err = DrbdRscs.Decode(storage.BackendKV, kvRec)
	assert.ErrorAs(t, err, &fieldErr)
}

func TestDrbdVolumeNullSentinel(t *testing.T) {
	internal := DrbdVlmSpec{LayerRscID: 5, VlmNr: 0}
	external := DrbdVlmSpec{LayerRscID: 5, VlmNr: 1, NodeName: strPtr("N1"), PoolName: strPtr("meta")}

	rec, err := DrbdVlms.Encode(storage.BackendKV, &internal)
	require.NoError(t, err)
	assert.Equal(t, ":null", rec[storage.ColNodeName])
	assert.Equal(t, ":null", rec[storage.ColPoolName])

	got, err := DrbdVlms.Decode(storage.BackendKV, rec)
	require.NoError(t, err)
	assert.Nil(t, got.NodeName)
	assert.Nil(t, got.PoolName)

	for _, backend := range []storage.BackendType{storage.BackendSQL, storage.BackendCRD} {
		rec, err := DrbdVlms.Encode(backend, &internal)
		require.NoError(t, err)
		_, hasNode := rec[storage.ColNodeName]
		assert.False(t, hasNode, "%s stores NULL as absence", backend)
	}

	for _, backend := range allBackends {
		rec, err := DrbdVlms.Encode(backend, &external)
		require.NoError(t, err)
		got, err := DrbdVlms.Decode(backend, rec)
		require.NoError(t, err)
		assert.Equal(t, external, got)
	}
}

func TestSnapshotNameSentinel(t *testing.T) {
	for _, backend := range allBackends {
		live := LayerRscIDSpec{ID: 1, NodeName: "N1", ResourceName: "rsc1", Kind: "STORAGE"}
		rec, err := LayerRscIDs.Encode(backend, &live)
		require.NoError(t, err)
		assert.Equal(t, "", rec[storage.ColSnapshotName])

		got, err := LayerRscIDs.Decode(backend, rec)
		require.NoError(t, err)
		assert.Nil(t, got.SnapshotName)

		snap := live
		snap.SnapshotName = strPtr("snap1")
		rec, err = LayerRscIDs.Encode(backend, &snap)
		require.NoError(t, err)
		got, err = LayerRscIDs.Decode(backend, rec)
		require.NoError(t, err)
		require.NotNil(t, got.SnapshotName)
		assert.Equal(t, "snap1", *got.SnapshotName)
	}

	_, err := Resources.Encode(storage.BackendSQL, &ResourceSpec{NodeName: "N1", ResourceName: "r", SnapshotName: strPtr("")})
	assert.Error(t, err, "empty snapshot name collides with the live resource sentinel")
}

func TestLayerRscIDOptionalColumns(t *testing.T) {
	for _, backend := range allBackends {
		spec := LayerRscIDSpec{
			ID:           12,
			NodeName:     "N1",
			ResourceName: "rsc1",
			Kind:         "LUKS",
			ParentID:     intPtr(11),
			Suffix:       ".meta",
			Suspended:    boolPtr(true),
		}
		rec, err := LayerRscIDs.Encode(backend, &spec)
		require.NoError(t, err)
		got, err := LayerRscIDs.Decode(backend, rec)
		require.NoError(t, err)
		assert.Equal(t, spec, got)

		// rows written before the suspend column existed have no value
		delete(rec, storage.ColLayerSuspended)
		got, err = LayerRscIDs.Decode(backend, rec)
		require.NoError(t, err)
		assert.Nil(t, got.Suspended)
	}
}

func TestEncryptedPasswordIsBase64(t *testing.T) {
	spec := LuksVlmSpec{LayerRscID: 4, VlmNr: 0, EncryptedPassword: []byte{0x00, 0xff, 0x10}}
	for _, backend := range allBackends {
		rec, err := LuksVlms.Encode(backend, &spec)
		require.NoError(t, err)
		assert.Equal(t, "AP8Q", rec[storage.ColEncryptedPasswd])

		got, err := LuksVlms.Decode(backend, rec)
		require.NoError(t, err)
		assert.Equal(t, spec, got)
	}
}

func TestKVStoresStrings(t *testing.T) {
	spec := VolumeSpec{NodeName: "N1", ResourceName: "rsc1", VlmNr: 3, Flags: 1 << 40}
	rec, err := Volumes.Encode(storage.BackendKV, &spec)
	require.NoError(t, err)
	for col, v := range rec {
		assert.IsType(t, "", v, col)
	}
	assert.Equal(t, "1099511627776", rec[storage.ColVlmFlags])

	key, err := Volumes.KeyOf(storage.BackendKV, &spec)
	require.NoError(t, err)
	assert.Equal(t, storage.Key{"N1", "rsc1", "", "3"}, key)
}

func TestDecodeMissingRequiredColumn(t *testing.T) {
	_, err := Nodes.Decode(storage.BackendSQL, storage.Record{storage.ColNodeName: "N1"})
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	assert.Equal(t, storage.ColNodeType, fieldErr.Column)
	assert.True(t, errors.Is(err, errMissing))
}

func TestEncodeMissingRequiredColumn(t *testing.T) {
	b := NewRowBuilder(storage.BackendSQL, storage.Nodes)
	b.Set(storage.ColNodeName, "N1")
	_, err := b.Record()
	assert.Error(t, err)

	partial, err := b.Partial()
	require.NoError(t, err)
	assert.Equal(t, storage.Record{storage.ColNodeName: "N1"}, partial)
}

func TestDecodeWrongType(t *testing.T) {
	_, err := Nodes.Decode(storage.BackendCRD, storage.Record{
		storage.ColNodeName:  "N1",
		storage.ColNodeType:  "SATELLITE",
		storage.ColNodeFlags: "many",
	})
	assert.Error(t, err)

	_, err = Volumes.Decode(storage.BackendKV, storage.Record{
		storage.ColNodeName:     "N1",
		storage.ColResourceName: "rsc1",
		storage.ColSnapshotName: "",
		storage.ColVlmNr:        "zero",
		storage.ColVlmFlags:     "0",
	})
	assert.Error(t, err)
}

func TestKeyArity(t *testing.T) {
	_, err := Volumes.Key(storage.BackendSQL, "N1", "rsc1")
	assert.ErrorIs(t, err, storage.ErrImplementation)

	key, err := Resources.Key(storage.BackendSQL, "N1", "rsc1", nil)
	require.NoError(t, err)
	assert.Equal(t, storage.Key{"N1", "rsc1", ""}, key)
}

func TestConvertBetweenBackends(t *testing.T) {
	spec := DrbdVlmSpec{LayerRscID: 4, VlmNr: 1}
	for _, from := range allBackends {
		for _, to := range allBackends {
			rec, err := DrbdVlms.Encode(from, &spec)
			require.NoError(t, err)

			converted, err := Convert(from, to, DrbdVlms.Table, rec)
			require.NoError(t, err, "%s -> %s", from, to)

			want, err := DrbdVlms.Encode(to, &spec)
			require.NoError(t, err)
			assert.Equal(t, want, converted, "%s -> %s", from, to)

			got, err := DrbdVlms.Decode(to, converted)
			require.NoError(t, err)
			assert.Equal(t, spec, got)
		}
	}
}

func TestConvertKeepsPeerSlotsWidth(t *testing.T) {
	rec, err := DrbdRscs.Encode(storage.BackendKV, &DrbdRscSpec{LayerRscID: 1, PeerSlots: 31})
	require.NoError(t, err)

	converted, err := Convert(storage.BackendKV, storage.BackendSQL, DrbdRscs.Table, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(31), converted[storage.ColPeerSlots])
}

func TestDrbdDefinitionQuirks(t *testing.T) {
	dfn := DrbdRscDfnSpec{
		ResourceName:  "rsc",
		Suffix:        "",
		PeerSlots:     7,
		AlStripes:     1,
		AlStripeSize:  32,
		TCPPort:       intPtr(7000),
		TransportType: "IP",
		Secret:        strPtr("s3cr3t"),
	}

	tests := []struct {
		backend   storage.BackendType
		peerSlots any
	}{
		{backend: storage.BackendSQL, peerSlots: int64(7)},
		{backend: storage.BackendCRD, peerSlots: int64(7)},
		{backend: storage.BackendKV, peerSlots: "7"},
	}
	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			rec, err := DrbdRscDfns.Encode(tt.backend, &dfn)
			require.NoError(t, err)
			assert.Equal(t, tt.peerSlots, rec[storage.ColPeerSlots])
			assert.Equal(t, "", rec[storage.ColSnapshotName])

			got, err := DrbdRscDfns.Decode(tt.backend, rec)
			require.NoError(t, err)
			assert.Equal(t, dfn, got)
		})
	}
}

func TestDrbdVolumeDefinitionMinor(t *testing.T) {
	snap := DrbdVlmDfnSpec{ResourceName: "rsc", SnapshotName: strPtr("snap1"), VlmNr: 0}
	live := DrbdVlmDfnSpec{ResourceName: "rsc", VlmNr: 0, MinorNr: intPtr(1000)}

	rec, err := DrbdVlmDfns.Encode(storage.BackendKV, &snap)
	require.NoError(t, err)
	assert.Equal(t, ":null", rec[storage.ColVlmMinorNr])
	got, err := DrbdVlmDfns.Decode(storage.BackendKV, rec)
	require.NoError(t, err)
	assert.Nil(t, got.MinorNr)

	rec, err = DrbdVlmDfns.Encode(storage.BackendKV, &live)
	require.NoError(t, err)
	assert.Equal(t, "1000", rec[storage.ColVlmMinorNr])

	for _, backend := range allBackends {
		for _, spec := range []DrbdVlmDfnSpec{snap, live} {
			rec, err := DrbdVlmDfns.Encode(backend, &spec)
			require.NoError(t, err)
			got, err := DrbdVlmDfns.Decode(backend, rec)
			require.NoError(t, err)
			assert.Equal(t, spec, got, "%s", backend)
		}
	}
}
