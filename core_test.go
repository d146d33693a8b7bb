// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package core

import (
	"testing"

	"github.com/shoenig/test/must"

	coreconfig "github.com/flight-hal/core/client/config"
	gometrics "github.com/flight-hal/core/client/metrics"
	"github.com/flight-hal/core/internal/ci"
	"github.com/flight-hal/core/internal/testlog"
)

func TestBoot_WiresEveryFacadeAndShutsDownCleanly(t *testing.T) {
	ci.Parallel(t)

	cfg, err := coreconfig.NewBuilder().Build()
	must.Nil(t, err)

	c, herr := Boot(testlog.HCLogger(t), cfg, gometrics.Config{ServiceName: "hal_core_test"})
	must.Nil(t, herr)
	must.NotNil(t, c.Platform)
	must.NotNil(t, c.Services.Memory)
	must.NotNil(t, c.Services.Time)
	must.NotNil(t, c.Services.Thread)
	must.NotNil(t, c.Services.EventBus)
	must.NotNil(t, c.Services.Resources)
	must.NotNil(t, c.Registry)

	must.Nil(t, c.Shutdown())
}
