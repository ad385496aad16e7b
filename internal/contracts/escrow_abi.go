// Package contracts holds the ABI of the deployed escrow contract. The
// engine is a caller of this fixed interface, not its author.
package contracts

// EscrowABI covers the three mutating calls, the read calls and the events
// the engine consumes.
const EscrowABI = `[
  {"type":"function","name":"createEscrow","stateMutability":"payable",
   "inputs":[{"name":"receiver","type":"address"}],
   "outputs":[{"name":"escrowId","type":"uint256"}]},
  {"type":"function","name":"claim","stateMutability":"nonpayable",
   "inputs":[{"name":"escrowId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable",
   "inputs":[{"name":"escrowId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getEscrowDetails","stateMutability":"view",
   "inputs":[{"name":"escrowId","type":"uint256"}],
   "outputs":[
     {"name":"sender","type":"address"},
     {"name":"receiver","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"status","type":"uint8"},
     {"name":"createdAt","type":"uint256"},
     {"name":"claimedAt","type":"uint256"},
     {"name":"refundedAt","type":"uint256"}]},
  {"type":"function","name":"getPendingActions","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[
     {"name":"claimable","type":"uint256[]"},
     {"name":"refundable","type":"uint256[]"}]},
  {"type":"function","name":"escrowCount","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"EscrowCreated","anonymous":false,
   "inputs":[
     {"name":"escrowId","type":"uint256","indexed":true},
     {"name":"sender","type":"address","indexed":true},
     {"name":"receiver","type":"address","indexed":true},
     {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"Claimed","anonymous":false,
   "inputs":[
     {"name":"escrowId","type":"uint256","indexed":true},
     {"name":"receiver","type":"address","indexed":true},
     {"name":"at","type":"uint256","indexed":false}]},
  {"type":"event","name":"Refunded","anonymous":false,
   "inputs":[
     {"name":"escrowId","type":"uint256","indexed":true},
     {"name":"sender","type":"address","indexed":true},
     {"name":"at","type":"uint256","indexed":false}]}
]`
