// Package scanner реализует сторону стойки регистрации: источники
// ввода кодов (камера, ручной ввод), HTTP-клиент сервера билетов и
// конечный автомат сессии сканирования.
package scanner

import (
	"errors"
	"strings"
	"sync"
)

var (
	ErrNoCamera       = errors.New("no camera devices available")
	ErrEmptyCode      = errors.New("ticket code is empty")
	ErrDeviceNotFound = errors.New("camera device not found")
)

// NormalizeCode приводит ввод к каноническому виду кода билета:
// без краевых пробелов, в верхнем регистре. Сервер делает то же самое,
// нормализация здесь нужна для подавления повторных сканов.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ManualInput — ручной ввод кода с клавиатуры, запасной путь
// когда камера недоступна или QR не читается.
type ManualInput struct {
	onCode func(code string)
}

func NewManualInput(onCode func(code string)) *ManualInput {
	return &ManualInput{onCode: onCode}
}

// Submit нормализует и отдаёт код. Пустой ввод отбрасывается.
func (m *ManualInput) Submit(raw string) error {
	code := NormalizeCode(raw)
	if code == "" {
		return ErrEmptyCode
	}
	m.onCode(code)
	return nil
}

// CameraDevice — доступное устройство захвата.
type CameraDevice struct {
	ID    string
	Label string
}

// CameraDriver абстрагирует работу с железом камеры и декодером QR.
// Start не блокирует: результаты декодирования и ошибки приходят
// в колбэки до вызова Stop.
type CameraDriver interface {
	Devices() ([]CameraDevice, error)
	Start(deviceID string, onDecode func(text string), onError func(err error)) error
	Stop() error
}

// CameraInput управляет выбором устройства и жизненным циклом
// сканирования. Ошибки камеры и промахи декодера изолированы:
// они идут в onError и никогда не попадают в результат билета.
type CameraInput struct {
	driver  CameraDriver
	onCode  func(code string)
	onError func(err error)

	mu       sync.Mutex
	devices  []CameraDevice
	selected string
	scanning bool
	closed   bool
}

func NewCameraInput(driver CameraDriver, onCode func(code string), onError func(err error)) (*CameraInput, error) {
	devices, err := driver.Devices()
	if err != nil {
		return nil, err
	}

	c := &CameraInput{
		driver:  driver,
		onCode:  onCode,
		onError: onError,
		devices: devices,
	}
	c.selected = preferBackCamera(devices)
	return c, nil
}

// preferBackCamera выбирает заднюю камеру по метке, иначе первую из списка.
func preferBackCamera(devices []CameraDevice) string {
	if len(devices) == 0 {
		return ""
	}
	for _, d := range devices {
		label := strings.ToLower(d.Label)
		if strings.Contains(label, "back") || strings.Contains(label, "rear") {
			return d.ID
		}
	}
	return devices[0].ID
}

func (c *CameraInput) Devices() []CameraDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CameraDevice, len(c.devices))
	copy(out, c.devices)
	return out
}

func (c *CameraInput) SelectedDevice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// CanStart сообщает, есть ли хоть одно устройство для запуска.
func (c *CameraInput) CanStart() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices) > 0 && !c.closed
}

func (c *CameraInput) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

func (c *CameraInput) StartScanning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

func (c *CameraInput) startLocked() error {
	if c.closed || c.selected == "" {
		return ErrNoCamera
	}
	if c.scanning {
		return nil
	}

	err := c.driver.Start(c.selected,
		func(text string) {
			code := NormalizeCode(text)
			if code == "" {
				// Промах декодера — не событие для сессии
				return
			}
			c.onCode(code)
		},
		func(err error) {
			if c.onError != nil {
				c.onError(err)
			}
		},
	)
	if err != nil {
		return err
	}
	c.scanning = true
	return nil
}

func (c *CameraInput) StopScanning() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *CameraInput) stopLocked() error {
	if !c.scanning {
		return nil
	}
	if err := c.driver.Stop(); err != nil {
		return err
	}
	c.scanning = false
	return nil
}

// SelectDevice переключает камеру. Если сканирование шло,
// оно останавливается и перезапускается на новом устройстве.
func (c *CameraInput) SelectDevice(deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for _, d := range c.devices {
		if d.ID == deviceID {
			found = true
			break
		}
	}
	if !found {
		return ErrDeviceNotFound
	}

	wasScanning := c.scanning
	if wasScanning {
		if err := c.stopLocked(); err != nil {
			return err
		}
	}
	c.selected = deviceID
	if wasScanning {
		return c.startLocked()
	}
	return nil
}

func (c *CameraInput) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	err := c.stopLocked()
	c.closed = true
	return err
}
