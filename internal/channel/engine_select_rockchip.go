//go:build linux && cgo && rockchip

package channel

import "github.com/rkvision/edgestream/internal/nn"

func newEngine() nn.Engine { return nn.NewRockchip() }
