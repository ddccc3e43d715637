// Vahti - Multi-Region Fleet Monitor
// Discover. Check. Alert.
package main

func main() {
	Execute()
}
