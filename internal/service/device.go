package service

import (
	"context"
	"fmt"

	"kitchenalert/backend/internal/device"
	"kitchenalert/backend/internal/domain"
)

func (s *Service) Device(ctx context.Context) (domain.DeviceConfig, error) {
	var cfg domain.DeviceConfig
	err := s.do(ctx, func() error {
		cfg.Address = s.deviceAddress
		return nil
	})
	return cfg, err
}

// SetDevice stores the kitchen display address. An empty address clears it.
func (s *Service) SetDevice(ctx context.Context, cfg domain.DeviceConfig) (domain.DeviceConfig, error) {
	if err := requireManager(ctx); err != nil {
		return domain.DeviceConfig{}, err
	}
	address := device.NormalizeAddress(cfg.Address)

	err := s.do(ctx, func() error {
		if err := s.mirror.SetDeviceAddress(ctx, address); err != nil {
			return fmt.Errorf("save device address: %w", err)
		}
		s.deviceAddress = address
		return nil
	})
	if err != nil {
		return domain.DeviceConfig{}, err
	}
	s.log.WithField("address", address).Info("kitchen device address updated")
	return domain.DeviceConfig{Address: address}, nil
}

// TestDevice checks the given address, or the saved one when empty.
func (s *Service) TestDevice(ctx context.Context, address string) error {
	address = device.NormalizeAddress(address)
	if address == "" {
		cfg, err := s.Device(ctx)
		if err != nil {
			return err
		}
		address = cfg.Address
	}
	if address == "" {
		return device.ErrNoAddress
	}
	return s.device.TestConnection(ctx, address)
}
