package cartridge

import (
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/canonicalize"
	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/executor"
)

// Utility step names. They are not guarded by the mandate.
const (
	StepDigest = "digest"
	StepNFC    = "nfc"
)

func digestStep(_ *semver.Version, _ int) executor.Step {
	return executor.Named(StepDigest, func(in []byte) ([]byte, error) {
		return []byte(canonicalize.HashBytes(in)), nil
	})
}

func nfcStep(_ *semver.Version, _ int) executor.Step {
	return executor.Named(StepNFC, func(in []byte) ([]byte, error) {
		if !utf8.Valid(in) {
			return nil, errInvalidUTF8
		}
		return norm.NFC.Bytes(in), nil
	})
}
