// Package notebook loads notebook documents and applies them to a Runtime.
//
// A notebook is a YAML (.yaml, .yml) or CUE (.cue) document naming a set
// of modules, their source cells and cross-module imports, plus optional
// builtin values:
//
//	name: demo
//	builtins:
//	  rate: 3
//	modules:
//	  - id: main
//	    cells:
//	      - id: c1
//	        source: "a = rate * 2"
//	    imports:
//	      - {from: lib, name: pi}
//
// Check reports the problems the engine would surface at run time
// (syntax errors, undefined and duplicate names, cycles) without running
// anything.
package notebook
