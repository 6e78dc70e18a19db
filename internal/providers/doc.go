// Package providers implements the capability modules of the classroom
// monitor: Ticker, Camera, Detector, Associator, Renderer, Counter and API.
//
// Each provider embeds a *concept.Table and keeps its own state behind its
// own mutex; queries may run concurrently with actions. Images travel
// between providers as ir.IRRef handles of kind "image" and reply callbacks
// as handles of kind "reply".
package providers
