// Package policy evaluates Rego safety policies against planned
// change sets before any record is written. A set of built-in policies
// guards delegation records, the zone apex, and deletion-heavy plans;
// custom policies can be loaded from .rego or .json files and are
// hot-reloaded when their files change.
package policy
