package scanner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver — драйвер камеры без железа: декодирование эмулируется
// вызовом emit.
type fakeDriver struct {
	devices  []CameraDevice
	started  string
	starts   int
	stops    int
	onDecode func(text string)
	onError  func(err error)
}

func (d *fakeDriver) Devices() ([]CameraDevice, error) {
	return d.devices, nil
}

func (d *fakeDriver) Start(deviceID string, onDecode func(string), onError func(error)) error {
	d.started = deviceID
	d.starts++
	d.onDecode = onDecode
	d.onError = onError
	return nil
}

func (d *fakeDriver) Stop() error {
	d.started = ""
	d.stops++
	return nil
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "BOD-AB12CD34", NormalizeCode("  bod-ab12cd34  "))
	assert.Equal(t, "BOD-AB12CD34", NormalizeCode("BOD-AB12CD34"))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestManualInput(t *testing.T) {
	var got string
	input := NewManualInput(func(code string) { got = code })

	require.NoError(t, input.Submit(" bod-ab12cd34 "))
	assert.Equal(t, "BOD-AB12CD34", got)

	assert.ErrorIs(t, input.Submit("   "), ErrEmptyCode)
}

func TestCameraPrefersBackDevice(t *testing.T) {
	driver := &fakeDriver{devices: []CameraDevice{
		{ID: "front-1", Label: "Front Camera"},
		{ID: "back-1", Label: "Back Camera"},
	}}
	cam, err := NewCameraInput(driver, func(string) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, "back-1", cam.SelectedDevice())
}

func TestCameraPrefersRearDevice(t *testing.T) {
	driver := &fakeDriver{devices: []CameraDevice{
		{ID: "cam-a", Label: "Selfie cam"},
		{ID: "cam-b", Label: "Rear wide camera"},
	}}
	cam, err := NewCameraInput(driver, func(string) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, "cam-b", cam.SelectedDevice())
}

func TestCameraFallsBackToFirstDevice(t *testing.T) {
	driver := &fakeDriver{devices: []CameraDevice{
		{ID: "cam-1", Label: "Integrated Webcam"},
		{ID: "cam-2", Label: "USB Capture"},
	}}
	cam, err := NewCameraInput(driver, func(string) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, "cam-1", cam.SelectedDevice())
}

func TestCameraNoDevices(t *testing.T) {
	cam, err := NewCameraInput(&fakeDriver{}, func(string) {}, nil)
	require.NoError(t, err)
	assert.False(t, cam.CanStart())
	assert.ErrorIs(t, cam.StartScanning(), ErrNoCamera)
}

func TestCameraEmitsNormalizedCodes(t *testing.T) {
	driver := &fakeDriver{devices: []CameraDevice{{ID: "back-1", Label: "back"}}}
	var codes []string
	cam, err := NewCameraInput(driver, func(code string) { codes = append(codes, code) }, nil)
	require.NoError(t, err)
	require.NoError(t, cam.StartScanning())

	driver.onDecode(" bod-ab12cd34 ")
	driver.onDecode("") // промах декодера игнорируется

	assert.Equal(t, []string{"BOD-AB12CD34"}, codes)
}

func TestCameraErrorsDoNotReachCodes(t *testing.T) {
	driver := &fakeDriver{devices: []CameraDevice{{ID: "back-1", Label: "back"}}}
	var codes []string
	var errs []error
	cam, err := NewCameraInput(driver,
		func(code string) { codes = append(codes, code) },
		func(err error) { errs = append(errs, err) },
	)
	require.NoError(t, err)
	require.NoError(t, cam.StartScanning())

	driver.onError(errors.New("camera disconnected"))

	assert.Empty(t, codes)
	assert.Len(t, errs, 1)
}

func TestCameraSwitchRestartsScanning(t *testing.T) {
	driver := &fakeDriver{devices: []CameraDevice{
		{ID: "back-1", Label: "Back Camera"},
		{ID: "front-1", Label: "Front Camera"},
	}}
	cam, err := NewCameraInput(driver, func(string) {}, nil)
	require.NoError(t, err)

	require.NoError(t, cam.StartScanning())
	assert.Equal(t, "back-1", driver.started)

	require.NoError(t, cam.SelectDevice("front-1"))
	assert.Equal(t, "front-1", driver.started)
	assert.Equal(t, 2, driver.starts)
	assert.Equal(t, 1, driver.stops)
	assert.True(t, cam.Scanning())
}

func TestCameraSwitchWhileStoppedDoesNotStart(t *testing.T) {
	driver := &fakeDriver{devices: []CameraDevice{
		{ID: "back-1", Label: "Back Camera"},
		{ID: "front-1", Label: "Front Camera"},
	}}
	cam, err := NewCameraInput(driver, func(string) {}, nil)
	require.NoError(t, err)

	require.NoError(t, cam.SelectDevice("front-1"))
	assert.Equal(t, 0, driver.starts)
	assert.Equal(t, "front-1", cam.SelectedDevice())
}

func TestCameraSelectUnknownDevice(t *testing.T) {
	driver := &fakeDriver{devices: []CameraDevice{{ID: "back-1", Label: "Back Camera"}}}
	cam, err := NewCameraInput(driver, func(string) {}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, cam.SelectDevice("nope"), ErrDeviceNotFound)
}

func TestCameraClose(t *testing.T) {
	driver := &fakeDriver{devices: []CameraDevice{{ID: "back-1", Label: "Back Camera"}}}
	cam, err := NewCameraInput(driver, func(string) {}, nil)
	require.NoError(t, err)

	require.NoError(t, cam.StartScanning())
	require.NoError(t, cam.Close())
	assert.Equal(t, 1, driver.stops)
	assert.False(t, cam.CanStart())
	assert.ErrorIs(t, cam.StartScanning(), ErrNoCamera)
}
