// Package harness runs YAML scenarios against the real rule engine.
//
// A scenario declares scripted providers (or asks for the built-in
// classwatch providers), rule files, a list of steps and assertions over
// the resulting flow trace:
//
//	name: detect_then_count
//	description: "A detection is associated and counted"
//	flow_token: scenario-1
//	rules:
//	  - rules/count.cue
//	providers:
//	  Detector:
//	    operations:
//	      detect:
//	        args: {frame: string}
//	        outputs: {detections: string}
//	        returns: {detections: det-1}
//	  Counter:
//	    operations:
//	      update:
//	        args: {detections: string}
//	        echo: true
//	steps:
//	  - invoke: Detector.detect
//	    args: {frame: f-1}
//	    expect: {detections: det-1}
//	  - invoke: Counter.update
//	    args: {}
//	    expect_error: invalid input
//	assertions:
//	  - type: trace_order
//	    actions: [Detector.detect, Counter.update]
//	  - type: trace_count
//	    action: Counter.update
//	    count: 1
//
// Operation types are the provider field types; a trailing "?" marks an
// optional field. A scripted operation returns its static "returns" object,
// echoes its input with "echo", or fails with the "fail" message.
//
// # Assertions
//
//   - trace_contains: a record of action matches args/output (subset match)
//   - trace_absent: no record of action matches args
//   - trace_order: the actions' first records appear in the given order
//   - trace_count: action appears exactly count times
//
// # Determinism
//
// Every step runs in the scenario's fixed flow token, record ids are
// sequential and the wall clock is manual, so the same scenario always
// produces the same trace. RunWithGolden compares that trace against
// testdata/golden/<name>.golden.
package harness
