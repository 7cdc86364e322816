// Package hcl provides the concrete HCL implementation of the configuration
// loader defined in the `config` package. It is responsible for all file
// parsing and for the translation of HCL blocks into the format-agnostic
// model.
//
// A simulation is described by the top-level blocks simulation, broadcast,
// family, node, cable, computer and event, spread over any number of .hcl
// files:
//
//	node "desk" {
//	  peripheral "top" {
//	    type  = "monitor"
//	    width = 51
//	  }
//	}
//
//	computer "main" {
//	  family = "advanced"
//	  node   = "desk"
//	}
//
//	event "key" {
//	  computer = "main"
//	  args     = [65, false]
//	}
package hcl
