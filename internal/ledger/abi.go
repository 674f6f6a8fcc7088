package ledger

// taskContractABI covers the task contract calls the worker makes.
const taskContractABI = `[
  {"type":"function","name":"claimTask","stateMutability":"nonpayable",
   "inputs":[{"internalType":"uint256","name":"taskId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"completeTask","stateMutability":"nonpayable",
   "inputs":[{"internalType":"uint256","name":"taskId","type":"uint256"},{"internalType":"string","name":"result","type":"string"}],"outputs":[]},
  {"type":"function","name":"getTask","stateMutability":"view",
   "inputs":[{"internalType":"uint256","name":"taskId","type":"uint256"}],
   "outputs":[
     {"internalType":"uint256","name":"id","type":"uint256"},
     {"internalType":"address","name":"publisher","type":"address"},
     {"internalType":"string","name":"title","type":"string"},
     {"internalType":"string","name":"description","type":"string"},
     {"internalType":"uint256","name":"reward","type":"uint256"},
     {"internalType":"bool","name":"isCompleted","type":"bool"},
     {"internalType":"bool","name":"isClaimed","type":"bool"},
     {"internalType":"address","name":"worker","type":"address"},
     {"internalType":"uint256","name":"createdAt","type":"uint256"},
     {"internalType":"uint256","name":"deadline","type":"uint256"},
     {"internalType":"string","name":"taskType","type":"string"},
     {"internalType":"string","name":"requirements","type":"string"}]},
  {"type":"function","name":"getAvailableTasks","stateMutability":"view",
   "inputs":[],"outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}]},
  {"type":"function","name":"getWorker","stateMutability":"view",
   "inputs":[{"internalType":"address","name":"workerAddress","type":"address"}],
   "outputs":[
     {"internalType":"address","name":"addr","type":"address"},
     {"internalType":"uint256","name":"reputation","type":"uint256"},
     {"internalType":"uint256","name":"completedTasks","type":"uint256"},
     {"internalType":"uint256","name":"totalEarnings","type":"uint256"},
     {"internalType":"bool","name":"isActive","type":"bool"}]},
  {"type":"function","name":"getWorkerTasks","stateMutability":"view",
   "inputs":[{"internalType":"address","name":"workerAddress","type":"address"}],
   "outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}]}
]`
