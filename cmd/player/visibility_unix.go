//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/DoyleJ11/spellduel/internal/reconnect"
)

// watchVisibility treats job-control suspension as being backgrounded.
func watchVisibility(ctx context.Context, sup *reconnect.Supervisor) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTSTP, syscall.SIGCONT)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			switch s {
			case syscall.SIGTSTP:
				sup.SetVisible(false)
				// stop for real, then listen again once continued
				signal.Reset(syscall.SIGTSTP)
				_ = syscall.Kill(os.Getpid(), syscall.SIGTSTP)
			case syscall.SIGCONT:
				sup.SetVisible(true)
				signal.Notify(sig, syscall.SIGTSTP)
			}
		}
	}
}
