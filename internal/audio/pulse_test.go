package audio

import (
	"context"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestSelectDeviceFromListPrimaryDefault(t *testing.T) {
	devices := []Device{
		{ID: "alsa_output.pci-analog", Description: "Built-in Audio", Available: true, Default: true},
		{ID: "bluez_output.headset", Description: "Bone Conduction Headset", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "default", "default")
	require.NoError(t, err)
	require.Equal(t, "alsa_output.pci-analog", selection.Device.ID)
	require.Empty(t, selection.Warning)
}

func TestSelectDeviceFromListNamedOutput(t *testing.T) {
	devices := []Device{
		{ID: "alsa_output.pci-analog", Description: "Built-in Audio", Available: true, Default: true},
		{ID: "bluez_output.headset", Description: "Bone Conduction Headset", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "bone conduction", "")
	require.NoError(t, err)
	require.Equal(t, "bluez_output.headset", selection.Device.ID)
	require.False(t, selection.Fallback)
}

func TestSelectDeviceFromListMutedPrimaryUsesFallback(t *testing.T) {
	devices := []Device{
		{ID: "alsa_output.pci-analog", Description: "Built-in Audio", Available: true, Default: true},
		{ID: "bluez_output.headset", Description: "Bone Conduction Headset", Available: true, Muted: true},
	}

	selection, err := selectDeviceFromList(devices, "headset", "built-in")
	require.NoError(t, err)
	require.Equal(t, "alsa_output.pci-analog", selection.Device.ID)
	require.Contains(t, selection.Warning, "muted")
	require.True(t, selection.Fallback)
}

func TestSelectDeviceFromListUnavailablePrimaryFallsBackToDefault(t *testing.T) {
	devices := []Device{
		{ID: "alsa_output.pci-analog", Description: "Built-in Audio", Available: true, Default: true},
		{ID: "hdmi", Description: "HDMI Monitor", Available: false},
	}

	selection, err := selectDeviceFromList(devices, "hdmi", "default")
	require.NoError(t, err)
	require.Equal(t, "alsa_output.pci-analog", selection.Device.ID)
	require.Contains(t, selection.Warning, "unavailable")
}

func TestSelectDeviceFromListFailsWhenSelectedAndFallbackMuted(t *testing.T) {
	devices := []Device{
		{ID: "alsa_output.pci-analog", Description: "Built-in Audio", Available: true, Muted: true, Default: true},
	}

	_, err := selectDeviceFromList(devices, "default", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "muted")
}

func TestSelectDeviceFromListUnknownOutput(t *testing.T) {
	devices := []Device{{ID: "alsa_output.pci-analog", Description: "Built-in Audio", Available: true, Default: true}}

	_, err := selectDeviceFromList(devices, "missing", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not match")

	_, err = selectDeviceFromList(nil, "default", "default")
	require.Error(t, err)
}

func TestDeviceMatchesByIDAndDescription(t *testing.T) {
	dev := Device{ID: "bluez_output.headset", Description: "Bone Conduction Headset"}
	require.True(t, deviceMatches(dev, "bluez"))
	require.True(t, deviceMatches(dev, "bone conduction"))
	require.False(t, deviceMatches(dev, "missing"))
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.Error(t, err)
}

func TestSelectDeviceFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := SelectDevice(context.Background(), "default", "default")
	require.Error(t, err)
}

func TestPlayFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	err := Play(context.Background(), []int16{1, 2, 3}, PlayOptions{SampleRate: 16000})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connect pulse server")
}

func TestPlayValidatesInput(t *testing.T) {
	require.NoError(t, Play(context.Background(), nil, PlayOptions{}))

	err := Play(context.Background(), []int16{1}, PlayOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "sample rate")
}

func TestSamplesReaderDeliversAllSamples(t *testing.T) {
	reader := samplesReader([]int16{1, 2, 3, 4, 5})
	buf := make([]byte, 6)

	n, err := reader.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	n, err = reader.Read(buf)
	require.Equal(t, 4, n)
	require.Error(t, err)
}

func TestSinkStateString(t *testing.T) {
	require.Equal(t, "running", sinkStateString(0))
	require.Equal(t, "idle", sinkStateString(1))
	require.Equal(t, "suspended", sinkStateString(2))
	require.Equal(t, "unknown(99)", sinkStateString(99))
}

func TestSinkAvailable(t *testing.T) {
	require.False(t, sinkAvailable(nil))
	require.True(t, sinkAvailable(&pulseproto.GetSinkInfoReply{})) // no ports => available

	available := &pulseproto.GetSinkInfoReply{ActivePortName: "speaker"}
	setSinkPorts(t, available, []sinkPort{{name: "speaker", available: 2}})
	require.True(t, sinkAvailable(available))

	notAvailable := &pulseproto.GetSinkInfoReply{ActivePortName: "headphones"}
	setSinkPorts(t, notAvailable, []sinkPort{{name: "headphones", available: 1}})
	require.False(t, sinkAvailable(notAvailable))
}

type sinkPort struct {
	name      string
	available uint32
}

func setSinkPorts(t *testing.T, reply *pulseproto.GetSinkInfoReply, ports []sinkPort) {
	t.Helper()

	sliceType := reflect.TypeOf(reply.Ports)
	sliceValue := reflect.MakeSlice(sliceType, len(ports), len(ports))

	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}

	replyValue := reflect.ValueOf(reply).Elem().FieldByName("Ports")
	replyValue.Set(sliceValue)
}
