package client

import (
	"fmt"
	"os"
	"time"

	"github.com/antonkrylov/picopty/internal/admin"
	"github.com/antonkrylov/picopty/internal/config"
)

const DefaultTimeout = 10 * time.Second

type Connection struct {
	AdminAddr  string
	Timeout    time.Duration
	ConfigPath string
	Config     *config.Config
}

// ResolveConnection picks the admin endpoint for CLI subcommands:
// 1) flags (adminAddr, timeout)
// 2) config file admin.listen
// 3) environment (PICOPTY_ADMIN_ADDR)
// 4) defaults (127.0.0.1:5050, 10s)
func ResolveConnection(configPath, adminAddr string, timeout time.Duration) (*Connection, error) {
	conn := &Connection{
		ConfigPath: configPath,
		AdminAddr:  adminAddr,
		Timeout:    timeout,
	}

	if conn.ConfigPath != "" {
		cfg, err := config.Load(conn.ConfigPath)
		if err != nil {
			return nil, err
		}
		conn.Config = cfg
	}

	if conn.AdminAddr == "" && conn.Config != nil {
		conn.AdminAddr = conn.Config.Admin.Listen
	}
	if conn.Timeout == 0 {
		conn.Timeout = DefaultTimeout
	}
	if conn.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}

	if conn.AdminAddr == "" {
		conn.AdminAddr = os.Getenv("PICOPTY_ADMIN_ADDR")
		if conn.AdminAddr == "" {
			conn.AdminAddr = admin.DefaultListenAddr
		}
	}

	return conn, nil
}
