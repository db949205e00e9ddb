// Package security provides validation, sanitization, and limits for the jobs package.
//
// This package includes:
//   - Input validation for job types, job names and argument sizes
//   - Error message sanitization before messages are written to the history
//   - Clamping functions to enforce safe limits on retries and concurrency
//   - Security-related constants defining maximum sizes and counts
package security
