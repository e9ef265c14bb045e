package core

import "fmt"

// WalletEvent is a change reported by the wallet while the controller is running
type WalletEvent interface {
	walletEvent()
	String() string
}

// AccountChanged is emitted when the wallet switches to another account
type AccountChanged struct {
	Address string
}

// ChainChanged is emitted when the wallet switches networks
type ChainChanged struct {
	ChainID int64
}

// Disconnected is emitted when the wallet drops the connection
type Disconnected struct{}

func (AccountChanged) walletEvent() {}
func (ChainChanged) walletEvent()   {}
func (Disconnected) walletEvent()   {}

func (e AccountChanged) String() string { return fmt.Sprintf("accountsChanged(%s)", e.Address) }
func (e ChainChanged) String() string   { return fmt.Sprintf("chainChanged(%d)", e.ChainID) }
func (Disconnected) String() string     { return "disconnect" }
