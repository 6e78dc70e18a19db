// Package syncs holds the rules that wire the classroom monitor's providers
// together.
//
// Most rules are declared in rules.cue and compiled at startup. The rest are
// written in Go because their guards do more than look values up:
// TickToCapture compares record positions, GetFrame falls back to encoding
// the raw frame, and IndexPage renders HTML.
//
// Registration order is fixed: TickToCapture, TickToDetect,
// AssociateAfterDetect, RenderAfterAssociate, GetFrame, GetCount, IndexPage.
// Rules loaded from an external directory replace the embedded declarative
// rules of the same name; unknown names run after the built-in rules.
package syncs
