// Package models provides the data structures and validation rules for
// history intelligence: market tags, cutoff records, discovery results,
// and backtest range validation outcomes.
package models

import (
	"fmt"
	"strings"
)

// MarketTag identifies a market in canonical form:
// EXCHANGE_PRIMARY_SECONDARY[_CONTRACTTYPE], e.g.
// "BINANCE_BTC_USDT" or "BINANCEFUTURES_BTC_USDT_PERPETUAL".
type MarketTag struct {
	// Raw is the canonical (uppercased) tag string
	Raw string `json:"raw"`

	// Exchange is the first tag segment
	Exchange string `json:"exchange"`

	// PrimaryAsset is the base asset of the pair
	PrimaryAsset string `json:"primary_asset"`

	// SecondaryAsset is the quote asset of the pair
	SecondaryAsset string `json:"secondary_asset"`

	// ContractType is the optional fourth segment (e.g. "PERPETUAL").
	// Empty for spot markets.
	ContractType string `json:"contract_type,omitempty"`
}

// TagError represents a market tag parsing failure with the offending input.
type TagError struct {
	Tag     string // Tag is the input that failed to parse
	Message string // Message describes why parsing failed
}

// Error implements the error interface for TagError.
func (e *TagError) Error() string {
	return fmt.Sprintf("invalid market tag %q: %s", e.Tag, e.Message)
}

// ParseMarketTag parses and canonicalizes a market tag string.
// Input is case-insensitive; the canonical form is uppercase. A tag must
// have three or four non-empty underscore-separated segments.
func ParseMarketTag(tag string) (*MarketTag, error) {
	canonical := strings.ToUpper(strings.TrimSpace(tag))
	if canonical == "" {
		return nil, &TagError{Tag: tag, Message: "tag cannot be empty"}
	}

	segments := strings.Split(canonical, "_")
	if len(segments) < 3 {
		return nil, &TagError{Tag: tag, Message: "expected EXCHANGE_PRIMARY_SECONDARY[_CONTRACTTYPE]"}
	}
	if len(segments) > 4 {
		return nil, &TagError{Tag: tag, Message: fmt.Sprintf("too many segments (%d)", len(segments))}
	}

	for i, seg := range segments {
		if seg == "" {
			return nil, &TagError{Tag: tag, Message: fmt.Sprintf("segment %d is empty", i+1)}
		}
	}

	mt := &MarketTag{
		Raw:            canonical,
		Exchange:       segments[0],
		PrimaryAsset:   segments[1],
		SecondaryAsset: segments[2],
	}
	if len(segments) == 4 {
		mt.ContractType = segments[3]
	}

	return mt, nil
}

// IsValidMarketTag reports whether a tag parses cleanly.
func IsValidMarketTag(tag string) bool {
	_, err := ParseMarketTag(tag)
	return err == nil
}

// IsDerivative returns true for tagged contract markets (futures, perpetuals).
func (mt *MarketTag) IsDerivative() bool {
	return mt.ContractType != ""
}

// Pair returns the asset pair portion of the tag, e.g. "BTC_USDT".
func (mt *MarketTag) Pair() string {
	return mt.PrimaryAsset + "_" + mt.SecondaryAsset
}

// String returns the canonical tag string.
// This method implements the fmt.Stringer interface.
func (mt *MarketTag) String() string {
	return mt.Raw
}
