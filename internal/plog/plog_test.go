// Copyright (C) 2022 K2 Cyber Security Inc.

package plog_test

import (
	"fmt"
	"testing"

	"github.com/k2io/lochook/internal/plog"
	"github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	for _, level := range []plog.LogLevel{
		plog.Disabled,
		plog.Debug,
		plog.Info,
		plog.Error,
	} {
		level := level // new scope
		t.Run(level.String(), func(t *testing.T) {
			g := gomega.NewGomegaWithT(t)
			output := gbytes.NewBuffer()
			errChan := make(chan error, 1)
			logger := plog.NewLogger(level, output, errChan)
			require.Equal(t, level, logger.Level())

			logger.Debug("debug 1", " debug 2", " debug 3")
			logger.Info("info 1 ", "info 2 ", "info 3")
			err := errors.New("error message")
			logger.Error(err)

			var (
				re      = "lochook/%s - [0-9]{4}(-[0-9]{2}){2}T([0-9]{2}:){2}[0-9]{2}.?[0-9]{0,6} - %s"
				debugRe = fmt.Sprintf(re, plog.Debug, "debug 1 debug 2 debug 3")
				errorRe = fmt.Sprintf(re, plog.Error, "error message")
				infoRe  = fmt.Sprintf(re, plog.Info, "info 1 info 2 info 3")
			)
			switch level {
			case plog.Disabled:
				g.Expect(output).ShouldNot(gbytes.Say(debugRe))
				g.Expect(output).ShouldNot(gbytes.Say(infoRe))
				g.Expect(output).ShouldNot(gbytes.Say(errorRe))
			case plog.Debug:
				g.Expect(output).Should(gbytes.Say(debugRe))
				fallthrough
			case plog.Info:
				g.Expect(output).Should(gbytes.Say(infoRe))
				fallthrough
			case plog.Error:
				g.Expect(output).Should(gbytes.Say(errorRe))
			}

			// The error is sent into the channel whatever the level
			g.Eventually(errChan).Should(gomega.Receive(gomega.Equal(err)))
		})
	}
}

func TestNilErrorChannel(t *testing.T) {
	output := gbytes.NewBuffer()
	logger := plog.NewLogger(plog.Disabled, output, nil)
	require.NotPanics(t, func() { logger.Error(errors.New("dropped")) })
}

func TestParseLogLevel(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected plog.LogLevel
	}{
		{"debug", plog.Debug},
		{" INFO ", plog.Info},
		{"Error", plog.Error},
		{"disabled", plog.Disabled},
		{"verbose", plog.Disabled},
		{"", plog.Disabled},
	} {
		require.Equal(t, tc.expected, plog.ParseLogLevel(tc.in), tc.in)
	}
}
