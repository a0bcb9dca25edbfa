//go:build windows
// +build windows

package cmd

import (
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/config"
)

func setSyslog() error {
	if config.C.General.LogToSyslog {
		log.Warning("syslog logging is not supported on windows")
	}
	return nil
}
