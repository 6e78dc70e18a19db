// Package ir provides the value and record types shared by every classwatch
// package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Values are a sealed set of IR* types; providers never exchange raw Go values
//   - Effect identity is the injective canonical encoding (MarshalCanonical)
//   - Identifiers are NFC-normalized, data is compared byte-exact
//   - All JSON tags use snake_case
package ir
