// Package harness runs conformance scenarios for harvest programs.
//
// A scenario pairs a program with a simulated site and describes what one
// or more runs of the program against that site must produce. Each
// scenario runs in a fresh in-memory store with a fake clock and
// sequential run ids, so its results are reproducible and can be compared
// against golden snapshots.
//
// # Scenario Format
//
//	name: list_detail
//	description: "Every list item is opened and scraped once"
//	program: ../programs/shop.yaml
//	runs: 2
//	advance: 1h
//	options:
//	  dataset_id: shop
//	site:
//	  - url: https://shop.test/items
//	    lists:
//	      - row_xpath: /html/body/ul/li[*]
//	        rows:
//	          - [{suffix: /a, text: Lamp, link: https://shop.test/items/1}]
//	assertions:
//	  - type: row_count
//	    count: 3
//	  - type: journal_contains
//	    entry: "click tab-2 /html/body/ul/li[1]/a"
//	  - type: final_state
//	    table: runs
//	    where: { id: run-1 }
//	    expect: { status: finished }
//
// The program path is resolved relative to the scenario file. Runs share
// the store and the site, and the clock is advanced between runs.
//
// # Assertion Types
//
//   - row_count: the dataset holds exactly count rows
//   - rows_contain: some dataset row equals row
//   - rows_equal: the dataset rows equal rows, in order
//   - journal_contains: the site journal has entry
//   - journal_order: the journal has entries in this order
//   - run_status: run number run (1-based) ended with status
//   - final_state: exactly one store row in table matches where and has
//     the expect values
package harness
