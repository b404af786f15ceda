//go:build !unix

package main

import (
	"context"

	"github.com/DoyleJ11/spellduel/internal/reconnect"
)

func watchVisibility(context.Context, *reconnect.Supervisor) {}
