package harness

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// validateConfig validates the caller-controlled configuration after defaults
// were applied.
//
// This is the input boundary of the package: the rest of the implementation
// assumes validated fields satisfy their basic invariants (non-empty,
// absolute paths where required, known enum values). A violation found later
// indicates a bug here.
func validateConfig(cfg *Config) error {
	errs := make([]error, 0, 4)

	if strings.TrimSpace(cfg.BaseDir) == "" {
		errs = append(errs, errors.New("BaseDir is required"))
	} else if !filepath.IsAbs(cfg.BaseDir) {
		errs = append(errs, fmt.Errorf("BaseDir %q is not absolute", cfg.BaseDir))
	}

	switch cfg.Mode {
	case ModeSystem, ModeUser:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownInstallation, cfg.Mode))
	}

	if cfg.DisplayNumber < 0 {
		errs = append(errs, fmt.Errorf("DisplayNumber %d is negative", cfg.DisplayNumber))
	}

	if cfg.WindowTimeout < 0 {
		errs = append(errs, fmt.Errorf("WindowTimeout %s is negative", cfg.WindowTimeout))
	}

	if cfg.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("PollInterval %s is negative", cfg.PollInterval))
	}

	if strings.TrimSpace(cfg.Remote.Name) == "" {
		errs = append(errs, errors.New("Remote.Name is required"))
	}

	if strings.TrimSpace(cfg.Remote.URL) == "" {
		errs = append(errs, errors.New("Remote.URL is required"))
	}

	for i, arg := range cfg.WindowCommand {
		if strings.TrimSpace(arg) == "" {
			errs = append(errs, fmt.Errorf("WindowCommand argument %d is empty", i))
		}
	}

	return errors.Join(errs...)
}
