package cmd

import (
	"errors"
	"fmt"
	"os"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	apperrors "github.com/cadencectl/cadence/internal/errors"
)

// ExitCodeFor maps a command error to a semantic foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	switch {
	case err == nil:
		return 0
	case apperrors.IsConfiguration(err):
		return foundry.ExitConfigInvalid
	case errors.Is(err, os.ErrNotExist):
		return foundry.ExitFileNotFound
	case apperrors.IsPersistence(err):
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}

// ExitWithCode logs err with the exit code metadata from the foundry
// catalog, then exits. logger may be nil before logging is initialized.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}
	if logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	if envelope := envelopeOf(err); envelope != nil {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message))
		if envelope.Details != nil {
			fields = append(fields, zap.Any("error_details", envelope.Details))
		}
	}
	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)

	os.Exit(info.Code)
}

// ExitWithCodeStderr writes msg and err to stderr and exits. Use it for
// failures before the logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	switch envelope := envelopeOf(err); {
	case envelope != nil:
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %s\n", msg, envelope.Code, envelope.Message)
	case err != nil:
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	default:
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)

	os.Exit(info.Code)
}

// envelopeOf extracts a structured envelope from err when one is
// available, including the one a ConfigurationError builds.
func envelopeOf(err error) *gferrors.ErrorEnvelope {
	var envelope *gferrors.ErrorEnvelope
	if errors.As(err, &envelope) {
		return envelope
	}
	var cfgErr *apperrors.ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Envelope()
	}
	return nil
}
