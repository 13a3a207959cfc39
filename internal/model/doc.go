// Package model defines shared data types used across the ticker feed.
//
// Conventions:
//   - Prices, percentages and volumes: shopspring decimal, full exchange precision
//   - Timestamps: time.Time in UTC, taken from the exchange event time
//   - Symbols: uppercase exchange identifiers (e.g. "BTCUSDT"), normalized at the boundary
package model
