// Package harness runs YAML conformance scenarios against the record engine.
//
// Each scenario gets a fresh in-memory SQLite store, a deterministic clock
// and sequential annotation ids, so its trace is reproducible byte for byte
// and can be compared with a golden file.
//
// # Scenario Format
//
//	name: severity_edit_race
//	description: "Two devices edit from the same parent"
//	actors:
//	  phone:  { id: patient-1, role: PATIENT }
//	  inv:    { id: inv-a, role: INVESTIGATOR, sites: [site-a] }
//	steps:
//	  - as: phone
//	    append:
//	      entity_id: E1
//	      operation: CREATE
//	      site_id: site-a
//	      payload: { severity: 5 }
//	  - as: phone
//	    append: { entity_id: E1, operation: UPDATE, expected_parent: 1, payload: { severity: 4 } }
//	    expect: { case: OK, sequence_id: 2 }
//	assertions:
//	  - type: final_state
//	    entity_id: E1
//	    expect: { latest_sequence_id: 2, current_payload: { severity: 4 } }
//
// A step holds exactly one of append, branch (retain a losing write as a
// branch), annotate or resolve. Steps without an expect clause must succeed;
// otherwise case names the engine error code the step must fail with.
//
// # Assertion Types
//
//   - final_state: subset match on the entity's current state
//   - trace_count: an action (optionally with a given case) occurs N times
//   - trace_order: actions appear in order, not necessarily adjacent
//   - open_conflicts: number of unresolved conflict markers
//   - open_annotations: number of unresolved annotations on an entity
//   - not_visible: the named actor gets NOT_FOUND for the entity
package harness
