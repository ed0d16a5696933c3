// Command lyfe-sim drives a handful of agents through a scripted town
// square. Every language model is replaced by a deterministic stand-in, so
// the simulation runs offline and shows the runtime's scheduling.
package main

func main() {
	Execute()
}
