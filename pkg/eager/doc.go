// Package eager provides the instruction types that run operator kernels
// on the VM: blob objects, the Call instruction and its kernel contract,
// event recording, host access to blobs, and the critical sections and lazy
// job launches that hand data to compiled graphs.
package eager
