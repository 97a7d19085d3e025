package gateway

// AttendanceABI is the JSON ABI of the attendance contract.
const AttendanceABI = `[
	{"type":"function","name":"createProfile","stateMutability":"nonpayable","inputs":[{"name":"_name","type":"string"}],"outputs":[]},
	{"type":"function","name":"markAttendance","stateMutability":"nonpayable","inputs":[{"name":"timestamp","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"checkAttendance","stateMutability":"view","inputs":[{"name":"_user","type":"address"},{"name":"timestamp","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"modifyAttendance","stateMutability":"nonpayable","inputs":[{"name":"_user","type":"address"},{"name":"timestamp","type":"uint256"},{"name":"status","type":"bool"}],"outputs":[]},
	{"type":"function","name":"evictUser","stateMutability":"nonpayable","inputs":[{"name":"_user","type":"address"}],"outputs":[]},
	{"type":"function","name":"users","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"string"},{"name":"","type":"bool"}]},
	{"type":"function","name":"admin","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"ProfileCreated","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"name","type":"string","indexed":false}]},
	{"type":"event","name":"AttendanceMarked","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"date","type":"uint256","indexed":false}]},
	{"type":"event","name":"AttendanceModified","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"date","type":"uint256","indexed":false},{"name":"status","type":"bool","indexed":false}]},
	{"type":"event","name":"UserEvicted","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true}]}
]`
