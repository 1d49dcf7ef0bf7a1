// Package keyword scores items against the keywords file and assigns their
// risk level.
//
// Matching runs on "title content" after whitespace is collapsed and the
// text is lowercased. A keyword matches only as a whole word: the bytes
// directly around it must not be ASCII letters or digits, so "leak" matches
// "data leak" but neither "leaking" nor "wikileak".
//
// Risk is assigned by the first rule that applies:
//
//  1. require_target is on and no target matched: NONE
//  2. a target matched, or a matched keyword is critical: CRITICAL
//  3. three or more keywords: HIGH; two: MEDIUM; one: LOW; none: NONE
//
// A missing or broken keywords file leaves the stage inert rather than
// failing the run.
package keyword
