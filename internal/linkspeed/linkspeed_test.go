// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package linkspeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectReturnsConfiguredValueUnchanged(t *testing.T) {
	assert.Equal(t, 4000, Detect(4000, 10000))
}

func TestDetectFallsBackWhenUnconfigured(t *testing.T) {
	// The build host's actual interfaces vary, but gosigar cannot report
	// negotiated speed either way, so Detect must always fall back to the
	// caller-supplied default when configured is zero.
	assert.Equal(t, 10000, Detect(0, 10000))
}
