package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"lendchain/crypto"
)

type params []json.RawMessage

func (p params) expect(min, max int) error {
	if len(p) < min || len(p) > max {
		if min == max {
			return fmt.Errorf("%w: expected %d parameters, got %d", errInvalidParams, min, len(p))
		}
		return fmt.Errorf("%w: expected %d to %d parameters, got %d", errInvalidParams, min, max, len(p))
	}
	return nil
}

func (p params) has(i int) bool {
	return i < len(p) && len(p[i]) > 0 && string(p[i]) != "null"
}

func (p params) str(i int, name string) (string, error) {
	var value string
	if !p.has(i) {
		return "", fmt.Errorf("%w: %s required", errInvalidParams, name)
	}
	if err := json.Unmarshal(p[i], &value); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", errInvalidParams, name)
	}
	return value, nil
}

func (p params) identity(i int, name string) ([20]byte, error) {
	value, err := p.str(i, name)
	if err != nil {
		return [20]byte{}, err
	}
	id, err := crypto.ParseIdentity(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

func (p params) signature(i int, name string) ([]byte, error) {
	value, err := p.str(i, name)
	if err != nil {
		return nil, err
	}
	sig, err := decodeHex(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errInvalidParams, name, err)
	}
	return sig, nil
}

// uint64 accepts a JSON number or a decimal string.
func (p params) uint64(i int, name string) (uint64, error) {
	if !p.has(i) {
		return 0, fmt.Errorf("%w: %s required", errInvalidParams, name)
	}
	var number json.Number
	if err := json.Unmarshal(p[i], &number); err != nil {
		var text string
		if err := json.Unmarshal(p[i], &text); err != nil {
			return 0, fmt.Errorf("%w: %s must be an unsigned integer", errInvalidParams, name)
		}
		number = json.Number(strings.TrimSpace(text))
	}
	value, err := strconv.ParseUint(number.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an unsigned integer", errInvalidParams, name)
	}
	return value, nil
}

// amount accepts a decimal string or a JSON integer.
func (p params) amount(i int, name string) (*big.Int, error) {
	if !p.has(i) {
		return nil, fmt.Errorf("%w: %s required", errInvalidParams, name)
	}
	raw := strings.TrimSpace(string(p[i]))
	var text string
	if err := json.Unmarshal(p[i], &text); err == nil {
		raw = strings.TrimSpace(text)
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a decimal integer", errInvalidParams, name)
	}
	return value, nil
}

// timestamp reads unix seconds, defaulting to now when the parameter is absent.
func (p params) timestamp(i int, name string, now time.Time) (time.Time, error) {
	if !p.has(i) {
		return now, nil
	}
	secs, err := p.uint64(i, name)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}

func decodeHex(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return nil, fmt.Errorf("empty hex string")
	}
	return hex.DecodeString(trimmed)
}

func encodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
