// Package extract turns listing-page HTML into a structured haul.Listing using
// per-scraper rule tables. The tables are data (rules/*.yaml, embedded at
// build time); the engine is a pure function over (html, rule table) and never
// fails on malformed input. Every declared listing field gets a trace entry
// recording the rules tried, the rule that won, and whether a scraper default
// was applied.
package extract
