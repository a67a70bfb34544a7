package consensus

//
//                 +-----------+
//                 | WaitReady |  round computed, not yet driven
//                 +-----+-----+
//                       | tick (caught up)
//                       v
//                 +-----------+
//                 | WaitBegin |  now < StartTime
//                 +-----+-----+
//                       | now >= StartTime
//                       v
//                 +-----------+  local slot active: produce in background
//                 | Consensus +-------------------------------+
//                 +-----+-----+                               |
//                       | produced, or local slot passed      |
//                       v                                     |
//             +-------------------+                           |
//             | ConsensusWaitNext |                           |
//             +---------+---------+                           |
//                       | best >= StartHeight+N or now >= EndTime
//                       v                                     |
//   detect missed slots, keep round as previous, rebuild membership,
//   compute next round (carry-over start), back to WaitBegin/Consensus
//
// ConsensusState - round coordinator, one ticker goroutine
//	- Round - the current round value; the previous round and its violations
//	  are retained until the next transition
//	- BlockExecutor - assembles the local block from the mempool on a copy
//	  of the round, in its own goroutine
//	- ChainStore - committed blocks, UTXO set and evidence index
//	- Membership - live members; MembershipAt rebuilds past sets
//	- Network - the Reactor: direct round messages, inventories, blocks and
//	  the caught-up gate
