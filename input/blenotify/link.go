package blenotify

import (
	"fmt"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/powerpig99/smart-socks-sub000/errors"
)

// Link abstracts the BLE connection so the component logic can be tested
// without a radio.
type Link interface {
	// Connect scans for the device, connects, and routes notification
	// payloads to onData until disconnect or Close.
	Connect(onData func([]byte)) error
	// WriteCommand sends one command line to the node's write
	// characteristic.
	WriteCommand(data []byte) error
	// Close tears the connection down.
	Close() error
}

// bleLink is the real adapter-backed link.
type bleLink struct {
	deviceName  string
	serviceUUID bluetooth.UUID
	notifyUUID  bluetooth.UUID
	writeUUID   bluetooth.UUID
	scanWindow  time.Duration

	adapter *bluetooth.Adapter
	device  *bluetooth.Device
	writeCh *bluetooth.DeviceCharacteristic
}

func newBLELink(deviceName string, serviceUUID, notifyUUID, writeUUID string, scanWindow time.Duration) (*bleLink, error) {
	svc, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, errors.WrapInvalid(err, "blenotify", "newBLELink", "service uuid parse")
	}
	ntf, err := bluetooth.ParseUUID(notifyUUID)
	if err != nil {
		return nil, errors.WrapInvalid(err, "blenotify", "newBLELink", "notify uuid parse")
	}
	wrt, err := bluetooth.ParseUUID(writeUUID)
	if err != nil {
		return nil, errors.WrapInvalid(err, "blenotify", "newBLELink", "write uuid parse")
	}
	return &bleLink{
		deviceName:  deviceName,
		serviceUUID: svc,
		notifyUUID:  ntf,
		writeUUID:   wrt,
		scanWindow:  scanWindow,
		adapter:     bluetooth.DefaultAdapter,
	}, nil
}

// Connect implements Link on the system Bluetooth adapter.
func (l *bleLink) Connect(onData func([]byte)) error {
	if err := l.adapter.Enable(); err != nil {
		return errors.WrapFatal(err, "blenotify", "Connect", "adapter enable")
	}

	found := make(chan bluetooth.ScanResult, 1)
	stop := time.AfterFunc(l.scanWindow, func() { _ = l.adapter.StopScan() })
	err := l.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		if result.LocalName() != l.deviceName {
			return
		}
		select {
		case found <- result:
		default:
		}
		_ = a.StopScan()
	})
	stop.Stop()
	if err != nil {
		return errors.WrapTransient(err, "blenotify", "Connect", "scan")
	}

	var result bluetooth.ScanResult
	select {
	case result = <-found:
	default:
		return errors.WrapTransient(
			fmt.Errorf("%w: %q not seen within %v", errors.ErrConnectionTimeout, l.deviceName, l.scanWindow),
			"blenotify", "Connect", "scan window")
	}

	device, err := l.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return errors.WrapTransient(err, "blenotify", "Connect", "connect")
	}
	l.device = device

	services, err := device.DiscoverServices([]bluetooth.UUID{l.serviceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return errors.WrapTransient(
			fmt.Errorf("sensor service not found: %v", err),
			"blenotify", "Connect", "service discovery")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{l.notifyUUID, l.writeUUID})
	if err != nil || len(chars) == 0 {
		_ = device.Disconnect()
		return errors.WrapTransient(
			fmt.Errorf("characteristics not found: %v", err),
			"blenotify", "Connect", "characteristic discovery")
	}

	for i := range chars {
		ch := chars[i]
		switch ch.UUID() {
		case l.notifyUUID:
			if err := ch.EnableNotifications(onData); err != nil {
				_ = device.Disconnect()
				return errors.WrapTransient(err, "blenotify", "Connect", "notification enable")
			}
		case l.writeUUID:
			l.writeCh = &chars[i]
		}
	}
	return nil
}

// WriteCommand implements Link.
func (l *bleLink) WriteCommand(data []byte) error {
	if l.writeCh == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "blenotify", "WriteCommand", "characteristic check")
	}
	if _, err := l.writeCh.WriteWithoutResponse(data); err != nil {
		return errors.WrapTransient(err, "blenotify", "WriteCommand", "gatt write")
	}
	return nil
}

// Close implements Link.
func (l *bleLink) Close() error {
	l.writeCh = nil
	if l.device == nil {
		return nil
	}
	device := l.device
	l.device = nil
	return device.Disconnect()
}
