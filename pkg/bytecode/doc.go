// Package bytecode provides the on-disk bytecode image format for the SL
// virtual machine: parsing and validating the file layout, resolving the
// string table, and locating the public-symbol entrypoint.
//
// The format is deliberately compact and positional (no padding, no tags):
//
//	i32  string_table_size
//	i32  global_area_size     (machine words)
//	i32  public_count
//	[public_count x 2 x i32]  name_offset, code_offset pairs
//	[string_table_size bytes] NUL-terminated strings
//	[remainder]               code section
//
// Loading an image never executes it — that is the job of pkg/vm, which
// drives an Image and a Cursor through the Processor dispatch in this
// package's sibling, pkg/vm/dispatch.go.
package bytecode
