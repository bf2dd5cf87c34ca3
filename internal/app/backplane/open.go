package backplane

import (
	"fmt"

	"chathub/internal/configs"
	"chathub/internal/pkg/logx"
)

// Open builds the Backplane selected by cfg.Backplane.
func Open(cfg *configs.AppConfig) (Backplane, error) {
	switch cfg.Backplane {
	case configs.BackplaneLocal:
		logx.Info("Backplane: local (single instance only)")
		return NewLocal(), nil

	case configs.BackplaneNATS:
		bp, err := NewNATS(NATSConfig{
			URL:           cfg.NATSURL,
			Name:          "chathub-" + cfg.InstanceID,
			SubjectPrefix: cfg.NATSSubjectPrefix,
			InstanceID:    cfg.InstanceID,
		})
		if err != nil {
			return nil, err
		}
		logx.Info("Backplane: nats", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
		return bp, nil

	default:
		return nil, fmt.Errorf("backplane: unknown backend %q", cfg.Backplane)
	}
}
