package main

import (
	"fmt"

	"github.com/brineoram/roram"
	"github.com/brineoram/roram/cmd/internal/config"
	"github.com/brineoram/roram/persistent"
)

// session bundles everything a subcommand needs to run one Access and
// persist the result: the coordinator itself and the sqlite session store
// backing it across process invocations.
type session struct {
	coord *roram.Coordinator
	sess  *persistent.SQLiteSession
}

// openSession builds a coordinator of the size cfg configures and restores
// whatever state a previous invocation saved. Every subcommand but compare
// calls this after loading its config.
func openSession(cfg *config.Config) (*session, error) {
	params, err := persistent.NewParams(cfg.N, cfg.L, cfg.Z, cfg.B)
	if err != nil {
		return nil, err
	}

	crypto, err := newCryptoProvider(cfg)
	if err != nil {
		return nil, err
	}

	kind := roram.BackendMemory
	if cfg.Backend == "file" {
		kind = roram.BackendFile
	}
	coord, err := roram.NewCoordinator(params, crypto, kind, cfg.FilePrefix(), cfg.CountSeeks)
	if err != nil {
		return nil, err
	}

	sess, err := persistent.NewSQLiteSession(cfg.SessionPath())
	if err != nil {
		coord.Close()
		return nil, err
	}
	if err := coord.LoadSession(sess); err != nil {
		sess.Close()
		coord.Close()
		return nil, err
	}

	return &session{coord: coord, sess: sess}, nil
}

// Close saves the coordinator's state back to the session store and
// releases both the coordinator's and session's resources.
func (s *session) Close() error {
	saveErr := s.coord.SaveSession(s.sess)
	sessErr := s.sess.Close()
	coordErr := s.coord.Close()
	if saveErr != nil {
		return saveErr
	} else if sessErr != nil {
		return sessErr
	}
	return coordErr
}

func newCryptoProvider(cfg *config.Config) (persistent.CryptoProvider, error) {
	if cfg.NoCrypto {
		return persistent.NewNoOpCryptoProvider(1), nil
	}
	password, err := cfg.ResolvePassword()
	if err != nil {
		return nil, err
	}
	return persistent.NewAESCryptoProvider(password)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.FromFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config %q: %w", cfgPath, err)
	}
	return cfg, nil
}
