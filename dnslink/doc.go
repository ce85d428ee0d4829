// Package dnslink resolves DNSLink records (TXT "dnslink=/ipfs/<cid>") so a
// domain name can be used in place of a CID. Answers are cached in an
// expiring LRU.
package dnslink
