package ui

const stylesheet = `
body{font-family:system-ui,sans-serif;margin:0;background:#f6f8fa;color:#1f2328}
.top{padding:.75rem 1.5rem;background:#24292f}
.top a{color:#fff;text-decoration:none}
.layout{max-width:960px;margin:0 auto;padding:1.5rem}
.page-title{font-size:1.5rem;margin:0 0 .5rem}
.card{background:#fff;border:1px solid #d0d7de;border-radius:6px;padding:1rem;margin:1rem 0}
.muted{color:#656d76}
.flash{background:#ffebe9;border:1px solid #ff818266;border-radius:6px;padding:.5rem .75rem;margin:.5rem 0}
.quick-filter{margin:.5rem 0}.quick-filter input{width:100%;max-width:24rem}
label{display:block;font-weight:600;margin:.5rem 0 .25rem}
textarea,input[type=text],select{width:100%;box-sizing:border-box;padding:.4rem;font:inherit}
button{margin-top:.5rem;padding:.4rem .9rem;border-radius:6px;border:1px solid #1f883d;background:#1f883d;color:#fff;font:inherit;cursor:pointer}
button.secondary,button.suggestion{background:#f6f8fa;color:#1f2328;border-color:#d0d7de}
button.suggestion{margin-right:.5rem}
progress{width:100%}
table{border-collapse:collapse;width:100%}
th,td{border-bottom:1px solid #d0d7de;padding:.3rem .5rem;text-align:left}
.table-wrap{overflow-x:auto}
.badge{border-radius:1rem;padding:0 .5rem;font-size:.85rem;background:#ddf4ff}
.state-completed{background:#dafbe1}
.state-failed{background:#ffebe9}
.state-awaitingclarification{background:#fff8c5}
.headline .value{font-size:2.5rem;font-weight:700;margin-right:.5rem}
.bar-row{display:flex;align-items:center;gap:.5rem;margin:.2rem 0}
.bar-label{width:30%;overflow:hidden;text-overflow:ellipsis;white-space:nowrap}
.bar{display:inline-block;height:.9rem;background:#0969da;border-radius:2px}
.bar-value{color:#656d76;font-size:.85rem}
`
