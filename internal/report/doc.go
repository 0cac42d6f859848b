// Package report renders a finished crawl for people and for tools.
//
// A Report is built once from a crawler.Result and handed to a Writer for
// one of the supported formats: plain text for terminals, JSON and YAML for
// scripts, and Markdown for sharing.
package report
