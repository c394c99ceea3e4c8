// Package scoring turns measured stage figures into consistency, quality,
// grade and reliability scores. Every function is pure.
package scoring
