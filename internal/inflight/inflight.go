// Package inflight enforces at most one in-flight conversion per (chain, contract, account).
//
// Two conversions for the same account and wrapper would race on allowance and nonce,
// so callers take an expiring lease on the derived key before running a saga.
package inflight

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidInput = errors.New("inflight: invalid input")
	ErrNotFound     = errors.New("inflight: not found")
	ErrNotOwner     = errors.New("inflight: not owner")
	ErrExpired      = errors.New("inflight: lease expired")
	ErrBusy         = errors.New("inflight: conversion already in flight")
)

// Lease records which worker runs the conversion identified by Key.
type Lease struct {
	Key        string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Live reports whether the lease still excludes other holders at now.
func (l Lease) Live(now time.Time) bool { return now.Before(l.ExpiresAt) }

// Store keeps at most one live lease per conversion key.
//
// A lapsed lease counts as absent: TryAcquire takes it over, Get and Release ignore it.
// Renew extends only a live lease of the same holder. Once a lease lapsed, Renew fails
// with ErrExpired because another worker may already be running the conversion.
type Store interface {
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (Lease, bool, error)
	Renew(ctx context.Context, key, holder string, ttl time.Duration) (Lease, error)
	Release(ctx context.Context, key, holder string) error
	Get(ctx context.Context, key string) (Lease, error)
}

// Key derives the lease key for a conversion: "conv:" followed by the hex keccak256 of
// chainID (8 bytes big-endian) || contract || account.
func Key(chainID uint64, contract, account common.Address) string {
	var buf [8 + 2*common.AddressLength]byte
	binary.BigEndian.PutUint64(buf[:8], chainID)
	copy(buf[8:], contract[:])
	copy(buf[8+common.AddressLength:], account[:])

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(buf[:])
	return "conv:" + common.Bytes2Hex(h.Sum(nil))
}

func validate(key, holder string, ttl time.Duration) error {
	if key == "" || holder == "" || ttl <= 0 {
		return fmt.Errorf("%w: key and holder must be non-empty and ttl must be > 0", ErrInvalidInput)
	}
	return nil
}
