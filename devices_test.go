package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceKind_RoundTrip(t *testing.T) {
	for _, k := range []DeviceKind{DeviceKindVideoInput, DeviceKindAudioInput, DeviceKindAudioOutput} {
		got, err := ParseDeviceKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseDeviceKind("printer")
	assert.Error(t, err)
	assert.Equal(t, "unknown", DeviceKind(9).String())
}

func TestInventory_EmptyUntilRefresh(t *testing.T) {
	inv := NewInventory(NewSyntheticProvider(), nil)
	assert.Empty(t, inv.Devices())

	devices, err := inv.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, DeviceKindVideoInput, devices[0].Kind)
	assert.Equal(t, DeviceKindAudioInput, devices[1].Kind)
	assert.Equal(t, DeviceKindAudioOutput, devices[2].Kind)

	assert.Len(t, inv.VideoInputs(), 1)
	assert.Len(t, inv.AudioInputs(), 1)
	assert.Len(t, inv.AudioOutputs(), 1)
	assert.Equal(t, "Synthetic Camera", inv.VideoInputs()[0].Label)
}

func TestInventory_RefreshReplacesSnapshot(t *testing.T) {
	provider := NewSyntheticProvider()
	inv := NewInventory(provider, nil)
	_, err := inv.Refresh(context.Background())
	require.NoError(t, err)

	provider.SetCameras(
		SyntheticCamera{ID: "a", Label: "Front"},
		SyntheticCamera{ID: "b", Label: "Back"},
	)
	provider.SetSpeakers()
	_, err = inv.Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, inv.VideoInputs(), 2)
	assert.Empty(t, inv.AudioOutputs())
	assert.Len(t, inv.Devices(), 3)
}

func TestInventory_PartialFailure(t *testing.T) {
	provider := NewSyntheticProvider()
	provider.FailList(DeviceKindAudioOutput, errors.New("no output api"))
	inv := NewInventory(provider, nil)

	devices, err := inv.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Empty(t, inv.AudioOutputs())
}

func TestInventory_TotalFailureKeepsSnapshot(t *testing.T) {
	provider := NewSyntheticProvider()
	inv := NewInventory(provider, nil)
	_, err := inv.Refresh(context.Background())
	require.NoError(t, err)

	boom := errors.New("enumeration unavailable")
	for _, k := range []DeviceKind{DeviceKindVideoInput, DeviceKindAudioInput, DeviceKindAudioOutput} {
		provider.FailList(k, boom)
	}
	_, err = inv.Refresh(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Len(t, inv.Devices(), 3, "previous snapshot must survive")
}

func TestInventory_NoProvider(t *testing.T) {
	_, err := NewInventory(nil, nil).Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoProvider)
}

func TestInventory_DeviceChange(t *testing.T) {
	inv := NewInventory(NewSyntheticProvider(), nil)
	inv.NotifyDeviceChange()

	called := make(chan struct{}, 1)
	inv.OnDeviceChange(func() { called <- struct{}{} })
	inv.NotifyDeviceChange()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("device change callback not invoked")
	}
}

func TestMultiProvider(t *testing.T) {
	cams := NewSyntheticProvider()
	cams.SetCameras(SyntheticCamera{ID: "cam-only", Label: "Camera"})
	mics := NewSyntheticProvider()
	mics.SetCameras()

	m := MultiProvider{Video: cams, Audio: mics}
	video, err := m.ListVideoDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, video, 1)
	assert.Equal(t, "cam-only", video[0].DeviceID)

	audio, err := m.ListAudioInputDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, audio, 1)

	track, err := m.OpenAudioDevice(context.Background(), audio[0].DeviceID, nil)
	require.NoError(t, err)
	track.Stop()
	_, opened := mics.Opened()
	assert.Equal(t, 1, opened)

	var empty MultiProvider
	list, err := empty.ListAudioOutputDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = empty.OpenVideoDevice(context.Background(), "", nil)
	require.ErrorIs(t, err, ErrNoDevice)
	_, err = empty.OpenAudioDevice(context.Background(), "", nil)
	require.ErrorIs(t, err, ErrNoDevice)
}
